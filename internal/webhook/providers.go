package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type cryptoPayload struct {
	EventID  string           `json:"eventId"`
	UserID   string           `json:"userId"`
	Amount   *decimal.Decimal `json:"amount"`
	Currency *string          `json:"currency"`
	TxID     string           `json:"txId"`
}

// ParseCrypto handles the on-chain payment relay's callback.
func ParseCrypto(body []byte) (Notification, error) {
	var p cryptoPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Amount == nil {
		return Notification{}, fmt.Errorf("%w: amount missing", ErrInvalidPayload)
	}
	currency := "EUR"
	if p.Currency != nil {
		currency = strings.ToUpper(strings.TrimSpace(*p.Currency))
	}
	return Notification{
		Provider: ProviderCrypto,
		EventID:  p.EventID,
		UserID:   p.UserID,
		Amount:   *p.Amount,
		Currency: currency,
		TxID:     p.TxID,
	}.validate()
}

type moneyValue struct {
	Currency     string `json:"currency"`
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type molliePayload struct {
	ID       string      `json:"id"`
	Amount   *moneyValue `json:"amount"`
	Metadata *struct {
		UserID string `json:"userId"`
	} `json:"metadata"`
}

// ParseMollie handles a Mollie payment object.
func ParseMollie(body []byte) (Notification, error) {
	var p molliePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	n := Notification{Provider: ProviderMollie, EventID: p.ID, TxID: p.ID}
	if p.Metadata != nil {
		n.UserID = p.Metadata.UserID
	}
	if p.Amount == nil {
		return Notification{}, fmt.Errorf("%w: amount missing", ErrInvalidPayload)
	}
	amount, err := parseAmount(p.Amount.Value)
	if err != nil {
		return Notification{}, err
	}
	n.Amount = amount
	n.Currency = p.Amount.Currency
	return n.validate()
}

type paypalPayload struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  *struct {
		ID       string      `json:"id"`
		CustomID string      `json:"custom_id"`
		Amount   *moneyValue `json:"amount"`
	} `json:"resource"`
}

// ParsePayPal handles a PayPal webhook event; the user id travels in the
// resource's custom_id.
func ParsePayPal(body []byte) (Notification, error) {
	var p paypalPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Resource == nil {
		return Notification{}, fmt.Errorf("%w: resource missing", ErrInvalidPayload)
	}
	if p.Resource.Amount == nil {
		return Notification{}, fmt.Errorf("%w: amount missing", ErrInvalidPayload)
	}
	amount, err := parseAmount(p.Resource.Amount.Value)
	if err != nil {
		return Notification{}, err
	}
	return Notification{
		Provider: ProviderPayPal,
		EventID:  p.ID,
		UserID:   p.Resource.CustomID,
		Amount:   amount,
		Currency: p.Resource.Amount.CurrencyCode,
		TxID:     p.Resource.ID,
	}.validate()
}

type internalPayload struct {
	EventID string           `json:"eventId"`
	UserID  string           `json:"userId"`
	Amount  *decimal.Decimal `json:"amount"`
	Source  string           `json:"source"`
}

// ParseInternal handles credits requested by other services, already in
// normalized form.
func ParseInternal(body []byte) (Notification, error) {
	var p internalPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Amount == nil {
		return Notification{}, fmt.Errorf("%w: amount missing", ErrInvalidPayload)
	}
	return Notification{
		Provider: ProviderInternal,
		EventID:  p.EventID,
		UserID:   p.UserID,
		Amount:   *p.Amount,
		Source:   p.Source,
	}.validate()
}
