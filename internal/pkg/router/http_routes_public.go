package router

import (
	"github.com/DanielKirsch/CourseHive/app/controllers"
	"github.com/DanielKirsch/CourseHive/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	gothfiber "github.com/shareed2k/goth_fiber"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Static pages
	app.Get("/about", loggedInMiddleware, controllers.HandleAbout)
	app.Get("/contact", loggedInMiddleware, controllers.HandleContact)
	app.Get("/pricing", loggedInMiddleware, controllers.HandlePricing)

	// Public catalog
	app.Get("/courses", loggedInMiddleware, controllers.HandleCourseIndex)
	app.Get("/courses/:slug", loggedInMiddleware, controllers.HandleCourseShow)

	// Flash helpers
	app.Get("/flash/checkout-rate-limit", loggedInMiddleware, controllers.HandleFlashCheckoutRateLimit)
	app.Get("/flash/already-enrolled", loggedInMiddleware, controllers.HandleFlashAlreadyEnrolled)
	app.Get("/flash/checkout-error", loggedInMiddleware, controllers.HandleFlashCheckoutError)

	// Auth
	app.Post("/logout", middleware.RequireAuth, controllers.HandleAuthLogout)

	// Social OAuth
	app.Get("/auth/:provider", gothfiber.BeginAuthHandler)
	app.Get("/auth/:provider/callback", controllers.HandleOAuthCallback)

	// Billing provider webhooks (no CSRF, signature-verified in controller)
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)
}
