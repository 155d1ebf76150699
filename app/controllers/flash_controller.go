package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
)

// HandleFlashCheckoutRateLimit sets a flash error and redirects to the catalog
func HandleFlashCheckoutRateLimit(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type":    "error",
		"message": "Checkout-Limit erreicht. Bitte warte kurz und versuche es erneut.",
	}
	flash.WithError(c, fm)
	return c.Redirect("/courses", fiber.StatusSeeOther)
}

// HandleFlashAlreadyEnrolled sets an info flash and redirects to the given course URL
// Query: ?view=/courses/<slug>
func HandleFlashAlreadyEnrolled(c *fiber.Ctx) error {
	view := c.Query("view", "/dashboard")
	fm := fiber.Map{
		"type":    "info",
		"message": "Du bist in diesem Kurs bereits eingeschrieben.",
	}
	flash.WithInfo(c, fm)
	return c.Redirect(view, fiber.StatusSeeOther)
}

// HandleFlashCheckoutError shows a generic checkout error from query string
// Query: ?msg=...
func HandleFlashCheckoutError(c *fiber.Ctx) error {
	msg := c.Query("msg", "Fehler beim Checkout. Bitte versuche es erneut.")
	if len(msg) > 300 {
		msg = msg[:300]
	}
	fm := fiber.Map{
		"type":    "error",
		"message": msg,
	}
	flash.WithError(c, fm)
	return c.Redirect("/courses", fiber.StatusSeeOther)
}
