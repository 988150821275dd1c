package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"mindvault/credit-service/internal/auth"
	"mindvault/credit-service/internal/middleware"
)

// Register mounts all routes on app. Routes that need a token are skipped
// when validator is nil; the websocket stream also needs Redis.
func (h *Handler) Register(app *fiber.App, validator *auth.Validator, internalKey string) {
	app.Use(middleware.TraceID())

	app.Get("/health", h.Health)

	// Provider callbacks. Signatures are not verified here; deploy behind an
	// allow-list of provider IPs.
	hooks := app.Group("/webhook")
	hooks.Post("/crypto", h.CryptoWebhook)
	hooks.Post("/mollie", h.MollieWebhook)
	hooks.Post("/paypal", h.PayPalWebhook)

	app.Get("/users/:userId", h.GetUser)

	internal := app.Group("/internal", middleware.RequireInternalKey(internalKey))
	internal.Post("/ledger/credit", h.InternalCredit)

	if validator == nil {
		return
	}
	v1 := app.Group("/api/v1/credits", middleware.RequireAuth(validator))
	v1.Get("/balance", h.GetBalance)

	if h.guard != nil {
		app.Use("/ws/credits", middleware.UpgradeWS(validator))
		app.Get("/ws/credits", websocket.New(h.CreditStream))
	}
}
