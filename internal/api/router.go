package api

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes wires every endpoint. Fallback-deny: everything under /api
// and /auth/revoke sits behind the guard + auth middleware chain; /health and
// the mock issuer are the only anonymous routes.
func RegisterRoutes(app *fiber.App, h *Handler, ah *AuthHandler, guardMW, authMW, adminMW fiber.Handler, mockMode bool) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if mockMode {
		app.Post("/auth/token", ah.IssueToken)
	}
	app.Post("/auth/revoke", guardMW, authMW, adminMW, ah.RevokeToken)

	api := app.Group("/api", guardMW, authMW)
	api.Get("/attachments", h.ListAttachments)
	api.Post("/attachments", h.CreateAttachment)
	api.Get("/attachments/:id", h.GetAttachment)
	api.Patch("/attachments/:id", h.PatchAttachment)
	api.Get("/attachments/:id/mapping", h.ResolveMapping)
}
