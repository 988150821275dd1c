package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"mindvault/credit-service/internal/catalog"
)

const (
	StatusOK      = "ok"
	StatusIgnored = "ignored"

	ReasonDuplicateEvent = "duplicate_event"
)

// errDuplicate aborts the transaction when the event was already recorded.
var errDuplicate = errors.New("duplicate event")

// Result is the outcome of ApplyEvent. A duplicate is a normal result, not an error.
type Result struct {
	Status  string          `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	Account *Account        `json:"user,omitempty"`
	Bundle  json.RawMessage `json:"bundle,omitempty"`
}

// Duplicate reports whether the event had already been applied.
func (r *Result) Duplicate() bool {
	return r.Status == StatusIgnored
}

// Dedup is a best-effort cache in front of the store. It never decides the
// outcome on its own: markers are written only after a commit.
type Dedup interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
	Publish(ctx context.Context, userID string, payload interface{}) error
}

type Engine struct {
	store Store
	dedup Dedup
}

// NewEngine returns an engine over store. dedup may be nil.
func NewEngine(store Store, dedup Dedup) *Engine {
	return &Engine{store: store, dedup: dedup}
}

// ApplyEvent credits userID with bundle's yields unless eventID was already
// applied. Concurrent calls with the same eventID credit the account once;
// every other call gets an ignored result.
func (e *Engine) ApplyEvent(ctx context.Context, userID string, bundle catalog.Bundle, eventID string) (*Result, error) {
	// ids are opaque; normalization belongs to the adapters
	if userID == "" || eventID == "" {
		return nil, ErrInvalidPayload
	}

	if e.dedup != nil {
		seen, err := e.dedup.Seen(ctx, eventID)
		if err != nil {
			log.Printf("[credits][apply][%s] dedup lookup failed: %v", eventID, err)
		} else if seen {
			log.Printf("[credits][apply][%s] duplicate (cached) user=%s", eventID, userID)
			return duplicateResult(), nil
		}
	}

	var account *Account
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		recorded, err := tx.TryRecordEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !recorded {
			return errDuplicate
		}
		account, err = tx.UpsertAndIncrement(ctx, userID, bundle.Credits, bundle.BonusUnits)
		return err
	})
	if errors.Is(err, errDuplicate) {
		log.Printf("[credits][apply][%s] duplicate user=%s", eventID, userID)
		e.markSeen(ctx, eventID)
		return duplicateResult(), nil
	}
	if err != nil {
		log.Printf("[credits][apply][%s] transaction failed user=%s: %v", eventID, userID, err)
		return nil, wrapStoreErr(err)
	}

	log.Printf("[credits][apply][%s] user=%s +credits=%d +bonus=%d total=%d/%d",
		eventID, userID, bundle.Credits, bundle.BonusUnits, account.Credits, account.BonusUnits)
	e.markSeen(ctx, eventID)
	e.publish(ctx, eventID, account, bundle)

	return &Result{Status: StatusOK, Account: account, Bundle: bundle.Metadata}, nil
}

// GetAccount returns the current balance of userID, or ErrAccountNotFound.
func (e *Engine) GetAccount(ctx context.Context, userID string) (*Account, error) {
	acct, err := e.store.GetAccount(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return acct, nil
}

func (e *Engine) markSeen(ctx context.Context, eventID string) {
	if e.dedup == nil {
		return
	}
	if err := e.dedup.Mark(context.WithoutCancel(ctx), eventID); err != nil {
		log.Printf("[credits][apply][%s] dedup mark failed: %v", eventID, err)
	}
}

func (e *Engine) publish(ctx context.Context, eventID string, acct *Account, bundle catalog.Bundle) {
	if e.dedup == nil {
		return
	}
	payload := map[string]interface{}{
		"type":       "CREDITS_APPLIED",
		"eventId":    eventID,
		"credits":    bundle.Credits,
		"bonusUnits": bundle.BonusUnits,
		"balance":    acct,
	}
	if err := e.dedup.Publish(context.WithoutCancel(ctx), acct.UserID, payload); err != nil {
		log.Printf("[credits][apply][%s] publish failed: %v", eventID, err)
	}
}

func duplicateResult() *Result {
	return &Result{Status: StatusIgnored, Reason: ReasonDuplicateEvent}
}

func wrapStoreErr(err error) error {
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrCounterOverflow) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
