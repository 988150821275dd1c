package handler

import (
	"context"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"mindvault/credit-service/internal/catalog"
	"mindvault/credit-service/internal/dedup"
	"mindvault/credit-service/internal/ledger"
	"mindvault/credit-service/internal/middleware"
	"mindvault/credit-service/internal/webhook"
)

// Ledger is the part of ledger.Engine the handlers use.
type Ledger interface {
	ApplyEvent(ctx context.Context, userID string, bundle catalog.Bundle, eventID string) (*ledger.Result, error)
	GetAccount(ctx context.Context, userID string) (*ledger.Account, error)
}

type Handler struct {
	ledger    Ledger
	catalog   *catalog.Catalog
	guard     *dedup.Guard
	txTimeout time.Duration
	backend   string
}

func New(l Ledger, cat *catalog.Catalog, guard *dedup.Guard, txTimeout time.Duration, backend string) *Handler {
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &Handler{ledger: l, catalog: cat, guard: guard, txTimeout: txTimeout, backend: backend}
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "ok",
		"service":        "credit-service",
		"ledger":         h.backend,
		"catalogVersion": h.catalog.Version(),
		"bundles":        h.catalog.Len(),
	})
}

// CryptoWebhook POST /webhook/crypto
func (h *Handler) CryptoWebhook(c *fiber.Ctx) error {
	return h.applyNotification(c, webhook.ParseCrypto)
}

// MollieWebhook POST /webhook/mollie
func (h *Handler) MollieWebhook(c *fiber.Ctx) error {
	return h.applyNotification(c, webhook.ParseMollie)
}

// PayPalWebhook POST /webhook/paypal
func (h *Handler) PayPalWebhook(c *fiber.Ctx) error {
	return h.applyNotification(c, webhook.ParsePayPal)
}

// InternalCredit POST /internal/ledger/credit
func (h *Handler) InternalCredit(c *fiber.Ctx) error {
	return h.applyNotification(c, webhook.ParseInternal)
}

func (h *Handler) applyNotification(c *fiber.Ctx, parse func([]byte) (webhook.Notification, error)) error {
	trace := traceID(c)
	n, err := parse(c.Body())
	if err != nil {
		log.Printf("[trace=%s] %s rejected: %v", trace, c.Path(), err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid webhook payload"})
	}
	bundle, err := webhook.Resolve(h.catalog, n)
	if err != nil {
		log.Printf("[trace=%s] %s event=%s user=%s amount=%s %s: %v",
			trace, n.Provider, n.EventID, n.UserID, n.Amount.String(), n.Currency, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no matching bundle"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.txTimeout)
	defer cancel()
	res, err := h.ledger.ApplyEvent(ctx, n.UserID, bundle, n.EventID)
	if err != nil {
		log.Printf("[trace=%s] %s event=%s user=%s apply failed: %v", trace, n.Provider, n.EventID, n.UserID, err)
		return errorResponse(c, err)
	}
	log.Printf("[trace=%s] %s event=%s user=%s amount=%s status=%s", trace, n.Provider, n.EventID, n.UserID, n.Amount.String(), res.Status)
	return c.JSON(fiber.Map{"ok": true, "result": res})
}

// GetUser GET /users/:userId. The id is path-escaped by callers since user ids
// are opaque. An unknown user yields an empty object.
func (h *Handler) GetUser(c *fiber.Ctx) error {
	userID, err := url.PathUnescape(c.Params("userId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.txTimeout)
	defer cancel()
	acct, err := h.ledger.GetAccount(ctx, userID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return c.JSON(fiber.Map{})
	}
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(acct)
}

// GetBalance GET /api/v1/credits/balance for the authenticated user.
func (h *Handler) GetBalance(c *fiber.Ctx) error {
	userID, _ := c.Locals(middleware.LocalUserID).(string)
	ctx, cancel := context.WithTimeout(context.Background(), h.txTimeout)
	defer cancel()
	acct, err := h.ledger.GetAccount(ctx, userID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		acct, err = &ledger.Account{UserID: userID}, nil
	}
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(acct)
}

// CreditStream pushes CREDITS_APPLIED notifications for the connected user.
// Inbound frames are discarded; a failed read means the client went away and
// ends the subscription.
// GET /ws/credits (upgraded to WS)
func (h *Handler) CreditStream(c *websocket.Conn) {
	userID, _ := c.Locals(middleware.LocalUserID).(string)
	pubsub := h.guard.Subscribe(context.Background(), userID)
	if pubsub == nil {
		return
	}
	defer pubsub.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	msgs := pubsub.Channel()
	for {
		select {
		case <-gone:
			log.Printf("[ws][%s] client disconnected", userID)
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		}
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, webhook.ErrInvalidPayload):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid webhook payload"})
	case errors.Is(err, webhook.ErrNoMatchingBundle):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no matching bundle"})
	case errors.Is(err, ledger.ErrCounterOverflow):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "credit limit exceeded"})
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "ledger unavailable, retry later"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func traceID(c *fiber.Ctx) string {
	id, _ := c.Locals(middleware.LocalTraceID).(string)
	return id
}
