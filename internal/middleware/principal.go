package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const accountHeader = "X-Account"

// Principal resolves the calling account from the X-Account header and stores
// it in request locals for handlers and audit logging. Requests without an
// account are allowed through; operations that need an actor reject them
// downstream.
func Principal() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if account := strings.TrimSpace(c.Get(accountHeader)); account != "" {
			c.Locals("account", account)
		}
		return c.Next()
	}
}
