package store

import (
	"context"
	"errors"

	"github.com/susu3304/receiptsplit/internal/ledger"
)

var ErrNotFound = errors.New("not found")

// Store persists owner books and pending deltas. Books are read and written
// whole; at most one pending delta exists per (owner, transaction).
type Store interface {
	Book(ctx context.Context, owner string) (*ledger.Book, error)
	SaveBook(ctx context.Context, book *ledger.Book) error

	PendingDelta(ctx context.Context, owner, txID string) (*ledger.PendingDelta, error)
	PendingDeltas(ctx context.Context, owner string) ([]*ledger.PendingDelta, error)
	PendingOwners(ctx context.Context) ([]string, error)
	PutPendingDelta(ctx context.Context, delta *ledger.PendingDelta) error
	DeletePendingDelta(ctx context.Context, owner, txID string) error

	// ApplyPendingDelta saves book and removes the owner's delta for txID as
	// one atomic step.
	ApplyPendingDelta(ctx context.Context, book *ledger.Book, owner, txID string) error
}

// LoadBook returns the owner's book, or a new empty one when none is stored.
func LoadBook(ctx context.Context, s Store, owner, baseCurrency string) (*ledger.Book, error) {
	book, err := s.Book(ctx, owner)
	if errors.Is(err, ErrNotFound) {
		return ledger.NewBook(owner, baseCurrency), nil
	}
	if err != nil {
		return nil, err
	}
	if book.Groups == nil {
		book.Groups = make(map[string]*ledger.Group)
	}
	return book, nil
}
