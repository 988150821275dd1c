package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// file mirrors the pricing file shared with the storefront.
type file struct {
	Version interface{}       `json:"version"`
	Bundles []json.RawMessage `json:"bundles"`
}

type bundleEntry struct {
	PriceEUR  *decimal.Decimal `json:"price_eur"`
	Credits   int64            `json:"credits"`
	BonusLots int64            `json:"bonus_lots"`
}

// Load reads and parses the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	bundles := make([]Bundle, 0, len(f.Bundles))
	for i, raw := range f.Bundles {
		var entry bundleEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decode bundle %d: %w", i, err)
		}
		if entry.PriceEUR == nil {
			return nil, fmt.Errorf("%w at index %d: price_eur missing", ErrInvalidBundle, i)
		}
		bundles = append(bundles, Bundle{
			Price:      *entry.PriceEUR,
			Credits:    entry.Credits,
			BonusUnits: entry.BonusLots,
			Metadata:   append(json.RawMessage(nil), raw...),
		})
	}
	version := ""
	if f.Version != nil {
		version = fmt.Sprint(f.Version)
	}
	return New(version, bundles)
}
