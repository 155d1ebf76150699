package router

import (
	"github.com/DanielKirsch/CourseHive/app/controllers"
	"github.com/DanielKirsch/CourseHive/internal/pkg/middleware"
	"github.com/DanielKirsch/CourseHive/internal/pkg/oauth"
	"github.com/DanielKirsch/CourseHive/internal/pkg/session"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// init oauth providers
	oauth.Setup()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	// Initialize admin controller with repositories
	controllers.InitializeAdminController()

	// Wire billing, checkout, support queue and media services
	controllers.InitializeServices()

	h.registerPublicRoutes(app)
	h.registerAdminRoutes(app)
	h.registerCSRFProtectedRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func loggedInMiddleware(c *fiber.Ctx) error {
	// UserContextMiddleware already set all user context
	// All user information is available via usercontext.GetUserContext(c)
	return c.Next()
}

// Auth middlewares live in internal/pkg/middleware/auth.go
