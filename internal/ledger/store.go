// Package ledger applies purchased bundles to user accounts exactly once per
// payment event.
package ledger

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrAccountNotFound is returned by lookups for a user with no record yet.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidPayload indicates a missing user or event identifier.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrStoreUnavailable wraps every failure of the underlying store. Callers
	// should surface it as retryable.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
	// ErrCounterOverflow is returned by UpsertAndIncrement when an addition
	// would exceed the int64 range. Nothing is written.
	ErrCounterOverflow = errors.New("account counter overflow")
)

// CanAdd reports whether both counters of acct can take the deltas without
// overflowing.
func CanAdd(acct Account, credits, bonus int64) bool {
	return acct.Credits <= math.MaxInt64-credits && acct.BonusUnits <= math.MaxInt64-bonus
}

// Account is a user's wallet balance.
type Account struct {
	UserID     string    `json:"id"`
	Credits    int64     `json:"credits"`
	BonusUnits int64     `json:"lots_bonus"`
	UpdatedAt  time.Time `json:"-"`
}

// ProcessedEvent is the idempotency witness for one applied payment event.
type ProcessedEvent struct {
	EventID    string
	RecordedAt time.Time
}

// Tx is the set of operations available inside one ledger transaction.
type Tx interface {
	// TryRecordEvent inserts eventID into the processed set with a single
	// conditional write. It reports false if the event was already present.
	TryRecordEvent(ctx context.Context, eventID string) (bool, error)
	// UpsertAndIncrement creates the account with zero counters if missing,
	// adds the deltas and returns the updated account. Deltas are non-negative;
	// an overflowing addition fails with ErrCounterOverflow.
	UpsertAndIncrement(ctx context.Context, userID string, credits, bonus int64) (*Account, error)
	GetAccount(ctx context.Context, userID string) (*Account, error)
}

// Store is durable storage for accounts and processed events.
type Store interface {
	// WithinTx runs fn in a transaction. Changes are committed only when fn
	// returns nil; any error, including context cancellation, discards them.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetAccount(ctx context.Context, userID string) (*Account, error)
	Close(ctx context.Context) error
}
