package router

import (
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter wires all route groups. The HTTP router must come first
// because it initializes the session store, the OAuth providers and the
// user-context middleware the API group builds on.
func InstallRouter(app *fiber.App) {
	for _, r := range []Router{NewHttpRouter(), NewApiRouter()} {
		r.InstallRouter(app)
	}
}
