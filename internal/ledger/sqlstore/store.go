package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"mindvault/credit-service/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, credits, lots_bonus FROM users WHERE id = ?`, userID))
}

// Processed reports whether eventID has a committed record.
func (s *Store) Processed(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_events WHERE event_id = ?`, eventID).Scan(&n)
	return n > 0, err
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) TryRecordEvent(ctx context.Context, eventID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO processed_events (event_id) VALUES (?) ON CONFLICT(event_id) DO NOTHING`, eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpsertAndIncrement skips the update when it would overflow (SQLite would
// silently switch to REAL); no returned row then means ErrCounterOverflow.
func (t *sqlTx) UpsertAndIncrement(ctx context.Context, userID string, credits, bonus int64) (*ledger.Account, error) {
	acct, err := scanAccount(t.tx.QueryRowContext(ctx, `
		INSERT INTO users (id, credits, lots_bonus) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			credits = credits + excluded.credits,
			lots_bonus = lots_bonus + excluded.lots_bonus
		WHERE users.credits <= ? - excluded.credits
			AND users.lots_bonus <= ? - excluded.lots_bonus
		RETURNING id, credits, lots_bonus`, userID, credits, bonus, int64(math.MaxInt64), int64(math.MaxInt64)))
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, ledger.ErrCounterOverflow
	}
	return acct, err
}

func (t *sqlTx) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	return scanAccount(t.tx.QueryRowContext(ctx,
		`SELECT id, credits, lots_bonus FROM users WHERE id = ?`, userID))
}

func scanAccount(row *sql.Row) (*ledger.Account, error) {
	var acct ledger.Account
	err := row.Scan(&acct.UserID, &acct.Credits, &acct.BonusUnits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}
