// Package ledgertest holds the behaviour every ledger.Store must satisfy,
// driven through ledger.Engine.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindvault/credit-service/internal/catalog"
	"mindvault/credit-service/internal/ledger"
)

var (
	Starter = catalog.Bundle{Price: decimal.RequireFromString("5.00"), Credits: 100}
	Plus    = catalog.Bundle{Price: decimal.RequireFromString("9.99"), Credits: 220, BonusUnits: 1}
)

var errBoom = errors.New("boom")

// Run exercises newStore. Each subtest gets a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("Scenario", func(t *testing.T) { testScenario(t, newStore(t)) })
	t.Run("Idempotency", func(t *testing.T) { testIdempotency(t, newStore(t)) })
	t.Run("ConcurrentDuplicates", func(t *testing.T) { testConcurrentDuplicates(t, newStore(t)) })
	t.Run("ConcurrentDistinctEvents", func(t *testing.T) { testConcurrentDistinctEvents(t, newStore(t)) })
	t.Run("Monotonic", func(t *testing.T) { testMonotonic(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("CanceledContext", func(t *testing.T) { testCanceled(t, newStore(t)) })
	t.Run("TxPrimitives", func(t *testing.T) { testTxPrimitives(t, newStore(t)) })
	t.Run("CounterOverflow", func(t *testing.T) { testCounterOverflow(t, newStore(t)) })
}

func testScenario(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	eng := ledger.NewEngine(store, nil)

	res, err := eng.ApplyEvent(ctx, "u1", Starter, "e1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOK, res.Status)
	require.NotNil(t, res.Account)
	assert.Equal(t, "u1", res.Account.UserID)
	assert.Equal(t, int64(100), res.Account.Credits)
	assert.Equal(t, int64(0), res.Account.BonusUnits)

	res, err = eng.ApplyEvent(ctx, "u1", Starter, "e1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusIgnored, res.Status)
	assert.Equal(t, ledger.ReasonDuplicateEvent, res.Reason)
	assert.Nil(t, res.Account)

	acct, err := eng.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Credits)
	assert.Equal(t, int64(0), acct.BonusUnits)

	_, err = eng.GetAccount(ctx, "unknown")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func testIdempotency(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	eng := ledger.NewEngine(store, nil)

	first, err := eng.ApplyEvent(ctx, "u2", Plus, "evt-42")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusOK, first.Status)
	after1, err := eng.GetAccount(ctx, "u2")
	require.NoError(t, err)

	second, err := eng.ApplyEvent(ctx, "u2", Plus, "evt-42")
	require.NoError(t, err)
	assert.True(t, second.Duplicate())

	// a replayed event id never credits anyone, even another user
	third, err := eng.ApplyEvent(ctx, "u3", Plus, "evt-42")
	require.NoError(t, err)
	assert.True(t, third.Duplicate())

	after2, err := eng.GetAccount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, after1.Credits, after2.Credits)
	assert.Equal(t, after1.BonusUnits, after2.BonusUnits)

	_, err = eng.GetAccount(ctx, "u3")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func testConcurrentDuplicates(t *testing.T, store ledger.Store) {
	const n = 16
	ctx := context.Background()
	eng := ledger.NewEngine(store, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		ignored int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := eng.ApplyEvent(ctx, "racer", Plus, "evt-race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			case res.Status == ledger.StatusOK:
				ok++
			default:
				ignored++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, ignored)

	acct, err := eng.GetAccount(ctx, "racer")
	require.NoError(t, err)
	assert.Equal(t, Plus.Credits, acct.Credits)
	assert.Equal(t, Plus.BonusUnits, acct.BonusUnits)
}

func testConcurrentDistinctEvents(t *testing.T, store ledger.Store) {
	const n = 12
	ctx := context.Background()
	eng := ledger.NewEngine(store, nil)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := eng.ApplyEvent(ctx, "busy", Starter, fmt.Sprintf("evt-%d", i))
			if err == nil && res.Status != ledger.StatusOK {
				err = fmt.Errorf("event %d: unexpected status %s", i, res.Status)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	acct, err := eng.GetAccount(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, int64(n)*Starter.Credits, acct.Credits)
}

func testMonotonic(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	eng := ledger.NewEngine(store, nil)

	seq := []catalog.Bundle{Starter, Plus, Plus, Starter, Plus}
	var wantCredits, wantBonus int64
	var prev ledger.Account
	for i, b := range seq {
		res, err := eng.ApplyEvent(ctx, "mono", b, fmt.Sprintf("m-%d", i))
		require.NoError(t, err)
		require.Equal(t, ledger.StatusOK, res.Status)

		wantCredits += b.Credits
		wantBonus += b.BonusUnits
		assert.GreaterOrEqual(t, res.Account.Credits, prev.Credits)
		assert.GreaterOrEqual(t, res.Account.BonusUnits, prev.BonusUnits)
		assert.Equal(t, wantCredits, res.Account.Credits)
		assert.Equal(t, wantBonus, res.Account.BonusUnits)
		prev = *res.Account
	}
}

func testRollback(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		recorded, err := tx.TryRecordEvent(ctx, "evt-fail")
		require.NoError(t, err)
		require.True(t, recorded)
		_, err = tx.UpsertAndIncrement(ctx, "rb", 50, 5)
		require.NoError(t, err)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = store.GetAccount(ctx, "rb")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	// the failed attempt left no processed record, so a retry applies
	res, err := ledger.NewEngine(store, nil).ApplyEvent(ctx, "rb", Starter, "evt-fail")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOK, res.Status)
	assert.Equal(t, Starter.Credits, res.Account.Credits)
}

func testCanceled(t *testing.T, store ledger.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := ledger.NewEngine(store, nil)
	_, err := eng.ApplyEvent(ctx, "late", Starter, "evt-late")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	res, err := eng.ApplyEvent(context.Background(), "late", Starter, "evt-late")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOK, res.Status)
}

func testTxPrimitives(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	err := store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.GetAccount(ctx, "prim")
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

		first, err := tx.TryRecordEvent(ctx, "p-1")
		require.NoError(t, err)
		assert.True(t, first)
		again, err := tx.TryRecordEvent(ctx, "p-1")
		require.NoError(t, err)
		assert.False(t, again)

		acct, err := tx.UpsertAndIncrement(ctx, "prim", 7, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(7), acct.Credits)
		acct, err = tx.UpsertAndIncrement(ctx, "prim", 3, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(10), acct.Credits)
		assert.Equal(t, int64(2), acct.BonusUnits)

		got, err := tx.GetAccount(ctx, "prim")
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.Credits)
		return nil
	})
	require.NoError(t, err)

	acct, err := store.GetAccount(ctx, "prim")
	require.NoError(t, err)
	assert.Equal(t, "prim", acct.UserID)
	assert.Equal(t, int64(10), acct.Credits)
	assert.Equal(t, int64(2), acct.BonusUnits)
}

func testCounterOverflow(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	nearMax := int64(math.MaxInt64 - 10)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.UpsertAndIncrement(ctx, "big", nearMax, 0); err != nil {
			return err
		}
		_, err := tx.UpsertAndIncrement(ctx, "bonus", 0, nearMax)
		return err
	}))

	eng := ledger.NewEngine(store, nil)
	_, err := eng.ApplyEvent(ctx, "big", Starter, "evt-overflow")
	require.ErrorIs(t, err, ledger.ErrCounterOverflow)
	assert.NotErrorIs(t, err, ledger.ErrStoreUnavailable)

	_, err = eng.ApplyEvent(ctx, "bonus", Plus, "evt-overflow-bonus")
	require.NoError(t, err, "a bonus of one still fits")
	bonusHeavy := catalog.Bundle{Price: decimal.RequireFromString("1.00"), BonusUnits: 20}
	_, err = eng.ApplyEvent(ctx, "bonus", bonusHeavy, "evt-overflow-bonus-2")
	require.ErrorIs(t, err, ledger.ErrCounterOverflow)

	acct, err := store.GetAccount(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, nearMax, acct.Credits)

	acct, err = store.GetAccount(ctx, "bonus")
	require.NoError(t, err)
	assert.Equal(t, nearMax+1, acct.BonusUnits)
	assert.Equal(t, Plus.Credits, acct.Credits)

	// the rejected event was rolled back, so it is not a duplicate either
	err = store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		recorded, err := tx.TryRecordEvent(ctx, "evt-overflow")
		require.NoError(t, err)
		assert.True(t, recorded)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
}
