package router

import (
	"github.com/DanielKirsch/CourseHive/app/controllers"
	"github.com/DanielKirsch/CourseHive/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.RequireAdmin)
	adminGroup.Get("/", controllers.HandleAdminDashboard)
	adminGroup.Get("/users", controllers.HandleAdminUsers)
	adminGroup.Get("/users/edit/:id", controllers.HandleAdminUserEdit)
	adminGroup.Post("/users/update/:id", controllers.HandleAdminUserUpdate)
	adminGroup.Post("/users/delete/:id", controllers.HandleAdminUserDelete)
	adminGroup.Post("/users/resend-activation/:id", controllers.HandleAdminResendActivation)
	adminGroup.Post("/users/cancel-subscription/:id", controllers.HandleAdminSubscriptionCancel)

	// Course moderation
	adminGroup.Get("/courses", controllers.HandleAdminCourses)
	adminGroup.Get("/plans", controllers.HandleAdminPlans)
	adminGroup.Post("/courses/unpublish/:id", controllers.HandleAdminCourseUnpublish)

	// Search
	adminGroup.Get("/search", controllers.HandleAdminSearch)
}
