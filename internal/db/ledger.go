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

var _ store.Store = (*DB)(nil)

// Book loads the whole document of one owner.
func (db *DB) Book(ctx context.Context, owner string) (*ledger.Book, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx, `SELECT data FROM ledger_books WHERE owner = $1`, owner).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var b ledger.Book
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode book %s: %w", owner, err)
	}
	return &b, nil
}

// SaveBook replaces the owner's document in one statement.
func (db *DB) SaveBook(ctx context.Context, book *ledger.Book) error {
	raw, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode book: %w", err)
	}
	_, err = db.pool.Exec(ctx, upsertBook, book.Owner, raw)
	return err
}

const upsertBook = `INSERT INTO ledger_books (owner, data, updated_at)
	VALUES ($1, $2, CURRENT_TIMESTAMP)
	ON CONFLICT (owner) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
