package supportqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrAlreadyQueued is returned when a user requests to join a session they
// are already queued for.
var ErrAlreadyQueued = errors.New("supportqueue: user already queued")

// JoinRequest is one queued request to join a live support session.
type JoinRequest struct {
	UserID      uint      `json:"user_id"`
	UserName    string    `json:"user_name"`
	RequestedAt time.Time `json:"requested_at"`
}

// Queue is a Redis-backed FIFO of join requests, one list per session.
// Requests enter at the head and leave at the tail, so the instructor always
// admits the longest-waiting user first.
type Queue struct {
	client *redis.Client
}

// New creates a support queue on the given Redis client.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func queueKey(sessionID uint) string {
	return fmt.Sprintf("support:queue:%d", sessionID)
}

// Enqueue appends a join request for the session. A user can hold at most
// one place in a session's queue.
func (q *Queue) Enqueue(ctx context.Context, sessionID uint, req JoinRequest) error {
	pending, err := q.Pending(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.UserID == req.UserID {
			return ErrAlreadyQueued
		}
	}

	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, queueKey(sessionID), payload).Err()
}

// Dequeue pops the longest-waiting request. It returns nil when the queue
// is empty.
func (q *Queue) Dequeue(ctx context.Context, sessionID uint) (*JoinRequest, error) {
	raw, err := q.client.RPop(ctx, queueKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var req JoinRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Pending lists queued requests in FIFO order.
func (q *Queue) Pending(ctx context.Context, sessionID uint) ([]JoinRequest, error) {
	raw, err := q.client.LRange(ctx, queueKey(sessionID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	reqs := make([]JoinRequest, 0, len(raw))
	// LRange returns head first; the tail is the front of the queue.
	for i := len(raw) - 1; i >= 0; i-- {
		var req JoinRequest
		if err := json.Unmarshal([]byte(raw[i]), &req); err != nil {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Position reports the user's 1-based place in the queue, or false when the
// user is not queued.
func (q *Queue) Position(ctx context.Context, sessionID uint, userID uint) (int, bool, error) {
	pending, err := q.Pending(ctx, sessionID)
	if err != nil {
		return 0, false, err
	}
	for i, req := range pending {
		if req.UserID == userID {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

// Remove withdraws a user's request from the queue.
func (q *Queue) Remove(ctx context.Context, sessionID uint, userID uint) error {
	raw, err := q.client.LRange(ctx, queueKey(sessionID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	for _, entry := range raw {
		var req JoinRequest
		if err := json.Unmarshal([]byte(entry), &req); err != nil {
			continue
		}
		if req.UserID == userID {
			return q.client.LRem(ctx, queueKey(sessionID), 1, entry).Err()
		}
	}
	return nil
}

func admitKey(sessionID, userID uint) string {
	return fmt.Sprintf("support:admit:%d:%d", sessionID, userID)
}

// Admit stores a join token for a dequeued user. The student picks it up via
// AdmittedToken while polling their queue state.
func (q *Queue) Admit(ctx context.Context, sessionID, userID uint, token string, ttl time.Duration) error {
	return q.client.Set(ctx, admitKey(sessionID, userID), token, ttl).Err()
}

// AdmittedToken returns the user's join token once and deletes it, or ""
// when the user has not been admitted yet.
func (q *Queue) AdmittedToken(ctx context.Context, sessionID, userID uint) (string, error) {
	token, err := q.client.GetDel(ctx, admitKey(sessionID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

// Clear drops the whole queue, used when a session ends.
func (q *Queue) Clear(ctx context.Context, sessionID uint) error {
	return q.client.Del(ctx, queueKey(sessionID)).Err()
}

// Len reports how many requests are waiting.
func (q *Queue) Len(ctx context.Context, sessionID uint) (int64, error) {
	return q.client.LLen(ctx, queueKey(sessionID)).Result()
}
