package usercontext

import "github.com/gofiber/fiber/v2"

// LocalsKey is where the request middleware deposits the resolved context.
const LocalsKey = "USER_CONTEXT"

// Locals keys shared between the auth middleware and the session bootstrap.
const (
	KeyIsAdmin       = "isAdmin"
	KeyFromProtected = "from_protected"
)

// UserContext is the per-request identity resolved from the session once,
// so handlers never touch the session store themselves.
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
	Plan       string `json:"plan"`
}

// GetUserContext returns the context set by the middleware, or an anonymous
// one when the route runs outside it.
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(LocalsKey).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// GetUserID returns the current user's id, 0 for anonymous requests.
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
