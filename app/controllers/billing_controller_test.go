package controllers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/DanielKirsch/CourseHive/internal/pkg/checkout"
)

func checkoutRedirect(t *testing.T, err error) *http.Response {
	t.Helper()
	app := fiber.New()
	app.Get("/buy", func(c *fiber.Ctx) error {
		return redirectCheckoutError(c, err, "/billing")
	})

	resp, testErr := app.Test(httptest.NewRequest("GET", "/buy", nil))
	assert.NoError(t, testErr)
	return resp
}

func TestRedirectCheckoutError(t *testing.T) {
	// An existing enrollment is reported as success, not as a failure.
	resp := checkoutRedirect(t, checkout.ErrAlreadyEnrolled)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/billing", resp.Header.Get("Location"))
	flashCookie := strings.Join(resp.Header.Values("Set-Cookie"), ";")
	assert.Contains(t, flashCookie, "success")
	assert.NotContains(t, flashCookie, "error")

	resp = checkoutRedirect(t, checkout.ErrRateLimited)
	assert.Equal(t, "/billing", resp.Header.Get("Location"))
	assert.Contains(t, strings.Join(resp.Header.Values("Set-Cookie"), ";"), "error")
}
