package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vaultbank/vaultbank/internal/custody"
)

// RegisterAdminRoutes wires the admin surface. The group is expected to carry
// the admin key middleware; the service layer re-checks the acting account
// against the admin set.
func RegisterAdminRoutes(r fiber.Router, h *custody.Handler) {
	r.Get("/feeds", h.FeedBindings)
	r.Put("/feeds/:asset", h.BindFeed)
	r.Post("/assets", h.RegisterAsset)
	r.Post("/admins/:account", h.GrantAdmin)
	r.Delete("/admins/:account", h.RevokeAdmin)
}
