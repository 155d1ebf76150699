package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/DanielKirsch/CourseHive/internal/pkg/coursemedia"
)

var (
	mediaClient   *coursemedia.Client
	mediaClientMu sync.RWMutex
)

// SetMediaClient wires the S3 client used by media cleanup jobs.
// When no client is set the jobs complete as no-ops.
func SetMediaClient(client *coursemedia.Client) {
	mediaClientMu.Lock()
	defer mediaClientMu.Unlock()
	mediaClient = client
}

func getMediaClient() *coursemedia.Client {
	mediaClientMu.RLock()
	defer mediaClientMu.RUnlock()
	return mediaClient
}

// processMediaCleanupJob deletes a replaced media object from storage
func (q *Queue) processMediaCleanupJob(ctx context.Context, job *Job) error {
	payload, err := MediaCleanupJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid media cleanup payload: %w", err)
	}

	if payload.ObjectKey == "" {
		return fmt.Errorf("media cleanup job %s has no object key", job.ID)
	}

	client := getMediaClient()
	if client == nil {
		log.Warnf("[JobQueue] No media client configured, skipping cleanup of %s", payload.ObjectKey)
		return nil
	}

	return client.Delete(ctx, payload.ObjectKey)
}
