package controllers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/DanielKirsch/CourseHive/app/models"
	"github.com/DanielKirsch/CourseHive/app/repository"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
	"github.com/DanielKirsch/CourseHive/internal/pkg/entitlements"
	"github.com/DanielKirsch/CourseHive/internal/pkg/env"
	"github.com/DanielKirsch/CourseHive/internal/pkg/security"
	"github.com/DanielKirsch/CourseHive/internal/pkg/supportqueue"
	"github.com/DanielKirsch/CourseHive/internal/pkg/usercontext"
)

// joinTokenTTL bounds how long an admitted student can enter the room.
const joinTokenTTL = 5 * time.Minute

func joinTokenSecret() string {
	return env.GetEnv("SUPPORT_JOIN_SECRET", "")
}

// HandleSupportSessions lists the instructor's sessions with queue lengths.
func HandleSupportSessions(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	sessions, err := repository.GetGlobalFactory().GetSupportSessionRepository().
		GetByInstructorID(userCtx.UserID)
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Sessions konnten nicht geladen werden"})
		return c.Redirect("/teach/courses")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	waiting := make(map[uint]int64, len(sessions))
	for _, s := range sessions {
		n, _ := supportQueue.Len(ctx, s.ID)
		waiting[s.ID] = n
	}

	return c.Render("instructor/support_sessions", fiber.Map{
		"Page":      "support",
		"Username":  userCtx.Username,
		"Sessions":  sessions,
		"Waiting":   waiting,
		"Msg":       flash.Get(c),
		"CSRFToken": csrfToken(c),
	}, "layouts/main")
}

// HandleSupportSessionCreate schedules a session for an owned course.
func HandleSupportSessionCreate(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	courseID, err := strconv.ParseUint(c.FormValue("course_id"), 10, 32)
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Ungültiger Kurs"})
		return c.Redirect("/teach/support")
	}

	var course models.Course
	if err := database.GetDB().First(&course, uint(courseID)).Error; err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Kurs nicht gefunden"})
		return c.Redirect("/teach/support")
	}
	if course.InstructorID != userCtx.UserID {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Das ist nicht dein Kurs"})
		return c.Redirect("/teach/support")
	}

	scheduledAt := time.Now()
	if raw := c.FormValue("scheduled_at"); raw != "" {
		if parsed, err := time.Parse("2006-01-02T15:04", raw); err == nil {
			scheduledAt = parsed
		}
	}

	session := &models.SupportSession{
		CourseID:     course.ID,
		InstructorID: userCtx.UserID,
		RoomName:     models.NewRoomName(course.ID),
		Status:       models.SupportSessionScheduled,
		ScheduledAt:  scheduledAt,
	}
	if err := repository.GetGlobalFactory().GetSupportSessionRepository().Create(session); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Session konnte nicht angelegt werden"})
		return c.Redirect("/teach/support")
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Support-Session geplant"})
	return c.Redirect("/teach/support")
}

// HandleSupportSessionStart flips a session live.
func HandleSupportSessionStart(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	session, err := ownedSupportSession(c, userCtx)
	if err != nil {
		return err
	}

	now := time.Now()
	session.Status = models.SupportSessionLive
	session.StartedAt = &now
	if err := repository.GetGlobalFactory().GetSupportSessionRepository().Update(session); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Session konnte nicht gestartet werden"})
		return c.Redirect("/teach/support")
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Session ist live"})
	return c.Redirect("/teach/support")
}

// HandleSupportSessionEnd closes a session and drops its queue.
func HandleSupportSessionEnd(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	session, err := ownedSupportSession(c, userCtx)
	if err != nil {
		return err
	}

	now := time.Now()
	session.Status = models.SupportSessionEnded
	session.EndedAt = &now
	if err := repository.GetGlobalFactory().GetSupportSessionRepository().Update(session); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Session konnte nicht beendet werden"})
		return c.Redirect("/teach/support")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = supportQueue.Clear(ctx, session.ID)

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Session beendet"})
	return c.Redirect("/teach/support")
}

// HandleSupportSessionNext admits the longest-waiting student: the request is
// popped from the queue and a single-use join token is parked for pickup.
func HandleSupportSessionNext(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	session, err := ownedSupportSession(c, userCtx)
	if err != nil {
		return err
	}
	if session.Status != models.SupportSessionLive {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Session ist nicht live"})
		return c.Redirect("/teach/support")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := supportQueue.Dequeue(ctx, session.ID)
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Warteschlange nicht erreichbar"})
		return c.Redirect("/teach/support")
	}
	if req == nil {
		flash.WithInfo(c, fiber.Map{"type": "info", "message": "Niemand wartet gerade"})
		return c.Redirect("/teach/support")
	}

	token, err := security.GenerateJoinToken(req.UserID, session.ID, session.RoomName, joinTokenTTL, joinTokenSecret())
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Join-Token konnte nicht erzeugt werden"})
		return c.Redirect("/teach/support")
	}
	if err := supportQueue.Admit(ctx, session.ID, req.UserID, token, joinTokenTTL); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Zulassung konnte nicht gespeichert werden"})
		return c.Redirect("/teach/support")
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": fmt.Sprintf("%s wurde zugelassen", req.UserName)})
	return c.Redirect("/teach/support")
}

// HandleSupportQueueJoin puts the student into a live session's queue.
// Requires an enrollment in the course and a plan with support access.
func HandleSupportQueueJoin(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	sessionID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid session id")
	}

	session, err := repository.GetGlobalFactory().GetSupportSessionRepository().GetByID(uint(sessionID))
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Session nicht gefunden"})
		return c.Redirect("/dashboard")
	}
	if session.Status != models.SupportSessionLive {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Session ist nicht live"})
		return c.Redirect("/dashboard")
	}

	enrolled, err := repository.GetGlobalFactory().GetEnrollmentRepository().
		HasActiveEnrollment(userCtx.UserID, session.CourseID)
	if err != nil || !enrolled {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Du bist in diesem Kurs nicht eingeschrieben"})
		return c.Redirect("/dashboard")
	}

	plan, _ := entitlements.EffectivePlanForUser(database.GetDB(), userCtx.UserID)
	if !entitlements.CanJoinSupportSessions(plan) {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Support-Sessions sind ab dem Basic-Plan verfügbar"})
		return c.Redirect("/pricing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = supportQueue.Enqueue(ctx, session.ID, supportqueue.JoinRequest{
		UserID:   userCtx.UserID,
		UserName: userCtx.Username,
	})
	if err != nil {
		if errors.Is(err, supportqueue.ErrAlreadyQueued) {
			flash.WithInfo(c, fiber.Map{"type": "info", "message": "Du stehst bereits in der Warteschlange"})
			return c.Redirect("/dashboard")
		}
		flash.WithError(c, fiber.Map{"type": "error", "message": "Warteschlange nicht erreichbar"})
		return c.Redirect("/dashboard")
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Du bist in der Warteschlange"})
	return c.Redirect("/dashboard")
}

// HandleSupportQueueLeave withdraws the student's join request.
func HandleSupportQueueLeave(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	sessionID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid session id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := supportQueue.Remove(ctx, uint(sessionID), userCtx.UserID); err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Warteschlange nicht erreichbar"})
		return c.Redirect("/dashboard")
	}

	flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Warteschlange verlassen"})
	return c.Redirect("/dashboard")
}

// HandleSupportJoin validates a join token and renders the video room page.
func HandleSupportJoin(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	token := c.Query("token")

	claims, err := security.VerifyJoinToken(token, joinTokenSecret())
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Join-Link ist ungültig oder abgelaufen"})
		return c.Redirect("/dashboard")
	}
	if claims.UserID != userCtx.UserID {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Dieser Join-Link gehört nicht zu deinem Konto"})
		return c.Redirect("/dashboard")
	}

	session, err := repository.GetGlobalFactory().GetSupportSessionRepository().GetByID(claims.SessionID)
	if err != nil || session.Status != models.SupportSessionLive || session.RoomName != claims.RoomName {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Session ist nicht mehr live"})
		return c.Redirect("/dashboard")
	}

	return c.Render("support/room", fiber.Map{
		"Page":     "support",
		"Username": userCtx.Username,
		"RoomName": session.RoomName,
		"Msg":      flash.Get(c),
	}, "layouts/main")
}

// ownedSupportSession loads the :id session and checks instructor ownership.
func ownedSupportSession(c *fiber.Ctx, userCtx usercontext.UserContext) (*models.SupportSession, error) {
	sessionID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).SendString("invalid session id")
	}

	session, err := repository.GetGlobalFactory().GetSupportSessionRepository().GetByID(uint(sessionID))
	if err != nil {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Session nicht gefunden"})
		return nil, c.Redirect("/teach/support")
	}
	if session.InstructorID != userCtx.UserID && !userCtx.IsAdmin {
		flash.WithError(c, fiber.Map{"type": "error", "message": "Das ist nicht deine Session"})
		return nil, c.Redirect("/teach/support")
	}
	return session, nil
}
