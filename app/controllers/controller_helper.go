package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const FROM_PROTECTED string = "from_protected"

// csrfToken reads the token set by the CSRF middleware; empty on exempt routes.
func csrfToken(c *fiber.Ctx) string {
	if v := c.Locals("csrf"); v != nil {
		if token, ok := v.(string); ok {
			return token
		}
	}
	return ""
}

// clientIP resolves the originating address behind Cloudflare or a reverse
// proxy, falling back to the connection address.
func clientIP(c *fiber.Ctx) string {
	if ip := c.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); first != "" {
			return first
		}
	}
	ip := c.IP()
	// Unwrap IPv4-mapped IPv6 (::ffff:192.0.2.1).
	return strings.TrimPrefix(ip, "::ffff:")
}
