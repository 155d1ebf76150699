package router

import (
	"strings"
	"time"

	"github.com/DanielKirsch/CourseHive/app/controllers"
	"github.com/DanielKirsch/CourseHive/internal/pkg/env"
	"github.com/DanielKirsch/CourseHive/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
)

func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App) {
	csrfConf := csrf.Config{
		KeyLookup:      "form:_csrf",
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/") || strings.HasPrefix(c.Path(), "/webhooks/")
		},
	}

	group := app.Group("", cors.New(), csrf.New(csrfConf))
	group.Get("/", loggedInMiddleware, controllers.HandleStart)
	group.Get("/login", loggedInMiddleware, controllers.HandleAuthLogin)
	group.Post("/login", loggedInMiddleware, controllers.HandleAuthLogin)
	group.Get("/register", loggedInMiddleware, controllers.HandleAuthRegister)
	group.Post("/register", loggedInMiddleware, controllers.HandleAuthRegister)
	group.Get("/activate", loggedInMiddleware, controllers.HandleAuthActivate)

	// Learner area
	group.Get("/dashboard", middleware.RequireAuth, controllers.HandleUserDashboard)
	group.Get("/user/profile", middleware.RequireAuth, controllers.HandleUserProfile)
	group.Get("/user/profile/edit", middleware.RequireAuth, controllers.HandleUserProfileEdit)
	group.Post("/user/profile/edit", middleware.RequireAuth, controllers.HandleUserProfileEdit)

	// Checkout + billing
	group.Post("/courses/:id/enroll", middleware.RequireAuth, controllers.HandleCourseEnroll)
	group.Get("/billing", middleware.RequireAuth, controllers.HandleBillingOverview)
	group.Post("/billing/subscribe", middleware.RequireAuth, controllers.HandleSubscribe)
	group.Post("/billing/cancel", middleware.RequireAuth, controllers.HandleCancelSubscription)
	group.Post("/billing/upgrade", middleware.RequireAuth, controllers.HandleUpgradeSubscription)
	group.Post("/billing/resync", middleware.RequireAuth, controllers.HandleResyncSubscription)
	group.Post("/orgs/:id/subscribe", middleware.RequireAuth, controllers.HandleOrgSubscribe)
	group.Post("/orgs/:id/cancel", middleware.RequireAuth, controllers.HandleCancelOrgSubscription)
	group.Get("/checkout/success", middleware.RequireAuth, controllers.HandleCheckoutSuccess)
	group.Get("/checkout/cancel", middleware.RequireAuth, controllers.HandleCheckoutCancel)

	// Support sessions (student side)
	group.Post("/support/sessions/:id/join", middleware.RequireAuth, controllers.HandleSupportQueueJoin)
	group.Post("/support/sessions/:id/leave", middleware.RequireAuth, controllers.HandleSupportQueueLeave)
	group.Get("/support/join", middleware.RequireAuth, controllers.HandleSupportJoin)

	// Instructor area
	group.Get("/teach/courses", middleware.RequireInstructor, controllers.HandleInstructorCourses)
	group.Get("/teach/courses/create", middleware.RequireInstructor, controllers.HandleCourseCreate)
	group.Post("/teach/courses/create", middleware.RequireInstructor, controllers.HandleCourseCreate)
	group.Get("/teach/courses/edit/:id", middleware.RequireInstructor, controllers.HandleCourseEdit)
	group.Post("/teach/courses/edit/:id", middleware.RequireInstructor, controllers.HandleCourseEdit)
	group.Post("/teach/courses/publish/:id", middleware.RequireInstructor, controllers.HandleCoursePublish)
	group.Post("/teach/courses/cover/:id", middleware.RequireInstructor, controllers.HandleCourseCoverUpload)
	group.Get("/teach/support", middleware.RequireInstructor, controllers.HandleSupportSessions)
	group.Post("/teach/support/create", middleware.RequireInstructor, controllers.HandleSupportSessionCreate)
	group.Post("/teach/support/:id/start", middleware.RequireInstructor, controllers.HandleSupportSessionStart)
	group.Post("/teach/support/:id/end", middleware.RequireInstructor, controllers.HandleSupportSessionEnd)
	group.Post("/teach/support/:id/next", middleware.RequireInstructor, controllers.HandleSupportSessionNext)
}
