package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/susu3304/receiptsplit/internal/ledger"
	"github.com/susu3304/receiptsplit/internal/store"
)

func (db *DB) PendingDelta(ctx context.Context, owner, txID string) (*ledger.PendingDelta, error) {
	d := ledger.PendingDelta{OwnerID: owner, TransactionID: txID}
	var raw []byte
	err := db.pool.QueryRow(ctx,
		`SELECT entries, submitted_at FROM pending_deltas WHERE owner_id = $1 AND transaction_id = $2`,
		owner, txID,
	).Scan(&raw, &d.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &d.Entries); err != nil {
		return nil, fmt.Errorf("decode delta entries: %w", err)
	}
	return &d, nil
}

// PendingDeltas returns every pending delta of an owner, oldest first.
func (db *DB) PendingDeltas(ctx context.Context, owner string) ([]*ledger.PendingDelta, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT transaction_id, entries, submitted_at FROM pending_deltas WHERE owner_id = $1 ORDER BY submitted_at`,
		owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ledger.PendingDelta
	for rows.Next() {
		d := ledger.PendingDelta{OwnerID: owner}
		var raw []byte
		if err := rows.Scan(&d.TransactionID, &raw, &d.SubmittedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &d.Entries); err != nil {
			return nil, fmt.Errorf("decode delta entries: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (db *DB) PendingOwners(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT DISTINCT owner_id FROM pending_deltas ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}

// PutPendingDelta replaces any previous delta for the same transaction.
func (db *DB) PutPendingDelta(ctx context.Context, d *ledger.PendingDelta) error {
	raw, err := json.Marshal(d.Entries)
	if err != nil {
		return fmt.Errorf("encode delta entries: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO pending_deltas (owner_id, transaction_id, entries, submitted_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id, transaction_id) DO UPDATE
		 SET entries = EXCLUDED.entries, submitted_at = EXCLUDED.submitted_at`,
		d.OwnerID, d.TransactionID, raw, d.SubmittedAt,
	)
	return err
}

func (db *DB) DeletePendingDelta(ctx context.Context, owner, txID string) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM pending_deltas WHERE owner_id = $1 AND transaction_id = $2`,
		owner, txID,
	)
	return err
}

// ApplyPendingDelta writes the book and drops the delta in one transaction.
func (db *DB) ApplyPendingDelta(ctx context.Context, book *ledger.Book, owner, txID string) error {
	raw, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode book: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsertBook, book.Owner, raw); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM pending_deltas WHERE owner_id = $1 AND transaction_id = $2`,
		owner, txID,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
