// Package webhook turns provider-specific payment notifications into the
// normalized event the ledger understands.
package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"mindvault/credit-service/internal/catalog"
	"mindvault/credit-service/internal/ledger"
)

const (
	ProviderCrypto   = "crypto"
	ProviderMollie   = "mollie"
	ProviderPayPal   = "paypal"
	ProviderInternal = "internal"
)

var (
	// ErrInvalidPayload is ledger.ErrInvalidPayload so callers can test either.
	ErrInvalidPayload = ledger.ErrInvalidPayload
	// ErrNoMatchingBundle means the paid amount is not a catalog price.
	ErrNoMatchingBundle = errors.New("no matching bundle")
)

// Notification is a validated payment notification.
type Notification struct {
	Provider string
	EventID  string
	UserID   string
	Amount   decimal.Decimal
	// Currency, TxID and Source are informational; matching ignores them.
	Currency string
	TxID     string
	Source   string
}

func (n Notification) validate() (Notification, error) {
	n.EventID = strings.TrimSpace(n.EventID)
	n.UserID = strings.TrimSpace(n.UserID)
	switch {
	case n.EventID == "":
		return Notification{}, fmt.Errorf("%w: event id missing", ErrInvalidPayload)
	case n.UserID == "":
		return Notification{}, fmt.Errorf("%w: user id missing", ErrInvalidPayload)
	case n.Amount.IsNegative():
		return Notification{}, fmt.Errorf("%w: negative amount", ErrInvalidPayload)
	}
	return n, nil
}

// Resolve finds the bundle paid for by n.
func Resolve(cat *catalog.Catalog, n Notification) (catalog.Bundle, error) {
	b, ok := cat.Match(n.Amount)
	if !ok {
		return catalog.Bundle{}, fmt.Errorf("%w for amount %s", ErrNoMatchingBundle, n.Amount.String())
	}
	return b, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: amount missing", ErrInvalidPayload)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q", ErrInvalidPayload, raw)
	}
	return d, nil
}
