package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"mindvault/credit-service/internal/auth"
)

const (
	LocalUserID  = "userId"
	LocalTraceID = "traceId"

	HeaderRequestID = "X-Request-ID"
)

// TraceID tags every request with the caller's X-Request-ID or a fresh uuid
// and echoes it on the response.
func TraceID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(LocalTraceID, id)
		c.Set(HeaderRequestID, id)
		return c.Next()
	}
}

// RequireAuth validates the bearer token and stores the user id in locals.
func RequireAuth(validator *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := validator.FromHeader(c.Get("Authorization"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		c.Locals(LocalUserID, claims.UserID)
		return c.Next()
	}
}

// RequireInternalKey guards routes reserved for other services.
func RequireInternalKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get("X-Internal-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
		}
		return c.Next()
	}
}

// UpgradeWS authenticates a websocket upgrade. Browsers cannot set headers on
// upgrades, so the token may also come in the "token" query parameter.
func UpgradeWS(validator *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		var (
			claims *auth.Claims
			err    error
		)
		if token := strings.TrimSpace(c.Query("token")); token != "" {
			claims, err = validator.Parse(token)
		} else {
			claims, err = validator.FromHeader(c.Get("Authorization"))
		}
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing or invalid token"})
		}
		c.Locals(LocalUserID, claims.UserID)
		return c.Next()
	}
}
