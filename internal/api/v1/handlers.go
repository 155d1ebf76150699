package apiv1

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/DanielKirsch/CourseHive/app/controllers"
	"github.com/DanielKirsch/CourseHive/app/repository"
	"github.com/DanielKirsch/CourseHive/internal/pkg/middleware"
	"github.com/DanielKirsch/CourseHive/internal/pkg/supportqueue"
	"github.com/DanielKirsch/CourseHive/internal/pkg/usercontext"
)

// Pong is the health check response body.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer bundles the JSON endpoints under /api/v1.
type APIServer struct {
	queue *supportqueue.Queue
}

// NewAPIServer creates a new API server instance
func NewAPIServer(queue *supportqueue.Queue) *APIServer {
	return &APIServer{queue: queue}
}

// RegisterHandlers attaches the v1 routes to the given router group.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)
	router.Get("/user/profile", middleware.RequireAPISessionAuth, s.GetUserProfile)
	router.Get("/enrollments/:course_id/status", middleware.RequireAPISessionAuth, s.GetEnrollmentStatus)
	router.Get("/support/sessions/:id/queue", middleware.RequireAPISessionAuth, s.GetQueueState)
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetUserProfile returns account information for the authenticated user.
func (s *APIServer) GetUserProfile(c *fiber.Ctx) error {
	return controllers.HandleGetUserAccount(c)
}

// GetEnrollmentStatus reports whether the user holds access to a course.
// The client polls this after returning from checkout, since entitlement is
// granted by the provider webhook and may lag a moment.
func (s *APIServer) GetEnrollmentStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	courseID, err := strconv.ParseUint(c.Params("course_id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid course id"})
	}

	enrollment, err := repository.GetGlobalFactory().GetEnrollmentRepository().
		GetByUserAndCourse(userCtx.UserID, uint(courseID))
	if err != nil {
		return c.JSON(fiber.Map{"enrolled": false, "status": "none"})
	}

	return c.JSON(fiber.Map{
		"enrolled": enrollment.IsActive(),
		"status":   enrollment.Status,
	})
}

// GetQueueState reports the user's place in a support session queue. Once the
// instructor admits the user, the single-use join token is returned instead.
func (s *APIServer) GetQueueState(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	sessionID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid session id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := s.queue.AdmittedToken(ctx, uint(sessionID), userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "queue unavailable"})
	}
	if token != "" {
		return c.JSON(fiber.Map{
			"admitted": true,
			"join_url": "/support/join?token=" + token,
		})
	}

	position, queued, err := s.queue.Position(ctx, uint(sessionID), userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "queue unavailable"})
	}

	return c.JSON(fiber.Map{
		"admitted": false,
		"queued":   queued,
		"position": position,
	})
}
