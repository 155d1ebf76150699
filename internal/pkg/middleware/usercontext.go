package middleware

import (
	"strings"

	"github.com/DanielKirsch/CourseHive/app/controllers"
	"github.com/DanielKirsch/CourseHive/internal/pkg/database"
	"github.com/DanielKirsch/CourseHive/internal/pkg/entitlements"
	"github.com/DanielKirsch/CourseHive/internal/pkg/session"
	"github.com/DanielKirsch/CourseHive/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware resolves the session into a UserContext once per
// request so handlers read identity from locals only.
func UserContextMiddleware(c *fiber.Ctx) error {
	// OAuth routes run on goth_fiber's own session store; touching the app
	// session there causes cross-store collisions.
	if strings.HasPrefix(c.Path(), "/auth/") {
		return c.Next()
	}
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		// Treat a broken session as anonymous.
		c.Locals(usercontext.LocalsKey, usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
		})
		c.Locals(controllers.FROM_PROTECTED, false)
		c.Locals(controllers.USER_IS_ADMIN, false)
		return c.Next()
	}

	userID := sess.Get(controllers.USER_ID)
	if userID == nil {
		c.Locals(usercontext.LocalsKey, usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
		})
		c.Locals(controllers.FROM_PROTECTED, false)
		c.Locals(controllers.USER_IS_ADMIN, false)
		return c.Next()
	}

	username := session.GetSessionValue(c, controllers.USER_NAME)
	isAdmin := sess.Get(controllers.USER_IS_ADMIN)

	// The plan is cached in the session; the first request per login pays
	// the entitlement lookup.
	plan := session.GetSessionValue(c, "user_plan")
	if plan == "" {
		plan = string(entitlements.PlanFree)
		if db := database.GetDB(); db != nil {
			if p, err := entitlements.EffectivePlanForUser(db, userID.(uint)); err == nil {
				plan = string(p)
			}
		}
		_ = session.SetSessionValue(c, "user_plan", plan)
	}
	userCtx := usercontext.UserContext{
		UserID:     userID.(uint),
		Username:   username,
		IsLoggedIn: true,
		IsAdmin:    isAdmin != nil && isAdmin.(bool),
		Plan:       plan,
	}
	c.Locals(usercontext.LocalsKey, userCtx)

	// Locals mirror for the handlers that predate UserContext.
	c.Locals(controllers.FROM_PROTECTED, true)
	c.Locals(controllers.USER_NAME, username)
	c.Locals(controllers.USER_ID, userID.(uint))
	c.Locals(controllers.USER_IS_ADMIN, userCtx.IsAdmin)

	session.SetSessionValue(c, controllers.USER_NAME, username)

	return c.Next()
}
