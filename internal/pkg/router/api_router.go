package router

import (
	"github.com/DanielKirsch/CourseHive/app/controllers"
	apiv1 "github.com/DanielKirsch/CourseHive/internal/api/v1"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

// InstallRouter mounts the JSON API behind a request limiter.
func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"name": "coursehive-api", "versions": []string{"v1"}})
	})

	v1 := api.Group("/v1")
	apiv1.RegisterHandlers(v1, apiv1.NewAPIServer(controllers.SupportQueue()))
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
