// Package catalog holds the immutable list of purchasable credit bundles and
// matches settled payment amounts against it.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Tolerance is the absolute difference allowed between a paid amount and a
// bundle price for the two to match.
var Tolerance = decimal.RequireFromString("0.01")

// MaxYield bounds the credits and bonus units of a single bundle.
const MaxYield = 1_000_000_000

var (
	// ErrEmptyCatalog indicates the source contained no bundles.
	ErrEmptyCatalog = errors.New("catalog has no bundles")
	// ErrInvalidBundle indicates a bundle with a negative price or a yield
	// outside [0, MaxYield].
	ErrInvalidBundle = errors.New("invalid bundle")
)

// Bundle is one purchasable unit of credits and bonus units at a fixed price.
type Bundle struct {
	Price      decimal.Decimal `json:"price"`
	Credits    int64           `json:"credits"`
	BonusUnits int64           `json:"bonusUnits"`
	// Metadata is the catalog entry exactly as it was loaded.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Catalog is safe for concurrent use; it is never mutated after construction.
type Catalog struct {
	version string
	bundles []Bundle
}

// New builds a catalog from bundles in the given order. Order is significant
// for Match.
func New(version string, bundles []Bundle) (*Catalog, error) {
	if len(bundles) == 0 {
		return nil, ErrEmptyCatalog
	}
	out := make([]Bundle, len(bundles))
	for i, b := range bundles {
		if b.Price.IsNegative() || b.Credits < 0 || b.BonusUnits < 0 ||
			b.Credits > MaxYield || b.BonusUnits > MaxYield {
			return nil, fmt.Errorf("%w at index %d", ErrInvalidBundle, i)
		}
		out[i] = b
	}
	return &Catalog{version: version, bundles: out}, nil
}

// Version returns the version string declared by the catalog source, if any.
func (c *Catalog) Version() string {
	return c.version
}

// Len returns the number of bundles.
func (c *Catalog) Len() int {
	return len(c.bundles)
}

// Bundles returns a copy of the bundles in load order.
func (c *Catalog) Bundles() []Bundle {
	out := make([]Bundle, len(c.bundles))
	copy(out, c.bundles)
	return out
}

// Match returns the first bundle, in catalog order, whose price is within
// Tolerance of amount. When tolerance windows of two bundles overlap the
// earlier bundle wins.
func (c *Catalog) Match(amount decimal.Decimal) (Bundle, bool) {
	if amount.IsNegative() {
		return Bundle{}, false
	}
	for _, b := range c.bundles {
		if b.Price.Sub(amount).Abs().LessThanOrEqual(Tolerance) {
			return b, true
		}
	}
	return Bundle{}, false
}
