// Package memstore is an in-memory ledger store for development and tests.
// Every transaction runs under one store-wide lock, which also serializes
// concurrent attempts on the same event id; writes are staged and applied
// only when the transaction commits.
package memstore

import (
	"context"
	"sync"
	"time"

	"mindvault/credit-service/internal/ledger"
)

type Store struct {
	mu       sync.Mutex
	accounts map[string]ledger.Account
	events   map[string]ledger.ProcessedEvent
	now      func() time.Time
}

func New() *Store {
	return &Store{
		accounts: make(map[string]ledger.Account),
		events:   make(map[string]ledger.ProcessedEvent),
		now:      time.Now,
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:    s,
		accounts: make(map[string]ledger.Account),
		events:   make(map[string]ledger.ProcessedEvent),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// a caller that gave up before commit must see nothing applied
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, ev := range tx.events {
		s.events[id] = ev
	}
	for id, acct := range tx.accounts {
		s.accounts[id] = acct
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &acct, nil
}

// Processed reports whether eventID has been committed.
func (s *Store) Processed(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok
}

func (s *Store) Close(context.Context) error {
	return nil
}

// memTx reads through to the store (the caller holds s.mu) and stages writes.
type memTx struct {
	store    *Store
	accounts map[string]ledger.Account
	events   map[string]ledger.ProcessedEvent
}

func (t *memTx) TryRecordEvent(ctx context.Context, eventID string) (bool, error) {
	if _, ok := t.events[eventID]; ok {
		return false, nil
	}
	if _, ok := t.store.events[eventID]; ok {
		return false, nil
	}
	t.events[eventID] = ledger.ProcessedEvent{EventID: eventID, RecordedAt: t.store.now()}
	return true, nil
}

func (t *memTx) UpsertAndIncrement(ctx context.Context, userID string, credits, bonus int64) (*ledger.Account, error) {
	acct, ok := t.lookup(userID)
	if !ok {
		acct = ledger.Account{UserID: userID}
	}
	if !ledger.CanAdd(acct, credits, bonus) {
		return nil, ledger.ErrCounterOverflow
	}
	acct.Credits += credits
	acct.BonusUnits += bonus
	acct.UpdatedAt = t.store.now()
	t.accounts[userID] = acct
	return &acct, nil
}

func (t *memTx) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	acct, ok := t.lookup(userID)
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &acct, nil
}

func (t *memTx) lookup(userID string) (ledger.Account, bool) {
	if acct, ok := t.accounts[userID]; ok {
		return acct, true
	}
	acct, ok := t.store.accounts[userID]
	return acct, ok
}
