package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/ledger"
	"github.com/susu3304/receiptsplit/internal/store"
)

var ErrNoChanges = errors.New("no changes to submit")

// Service stages collaborator proposals and lets the owner apply or discard
// them. It never merges: a new submission replaces the previous one.
type Service struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(st store.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, log: log, now: time.Now}
}

// Submit stores entries as the pending delta of (owner, txID).
func (s *Service) Submit(ctx context.Context, owner, txID string, entries []ledger.DeltaEntry) error {
	if len(entries) == 0 {
		return ErrNoChanges
	}
	delta := &ledger.PendingDelta{
		OwnerID:       owner,
		TransactionID: txID,
		Entries:       entries,
		SubmittedAt:   s.now(),
	}
	if err := s.store.PutPendingDelta(ctx, delta); err != nil {
		return fmt.Errorf("store pending delta: %w", err)
	}
	s.log.Info("pending delta submitted",
		zap.String("owner", owner),
		zap.String("transaction", txID),
		zap.Int("entries", len(entries)))
	return nil
}

// SubmitSnapshot computes and stores the deltas of a collaborator session.
// checked maps transaction id to item index to checkbox state for identity.
// It returns the number of transactions that received a delta.
func (s *Service) SubmitSnapshot(ctx context.Context, snap *Snapshot, identity int, checked map[string]map[int]bool) (int, error) {
	if snap == nil {
		return 0, ErrInvalidToken
	}
	if identity < 0 || identity >= len(snap.People) {
		return 0, &ledger.ValidationError{Field: "identity", Reason: "unknown participant"}
	}

	type staged struct {
		txID    string
		entries []ledger.DeltaEntry
	}
	var pending []staged
	for _, tx := range snap.Transactions() {
		entries := ComputeDelta(&tx, identity, checked[tx.ID])
		if len(entries) > 0 {
			pending = append(pending, staged{txID: tx.ID, entries: entries})
		}
	}
	if len(pending) == 0 {
		return 0, ErrNoChanges
	}
	for _, p := range pending {
		if err := s.Submit(ctx, snap.Owner, p.txID, p.entries); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// Apply writes the pending delta of txID into the live ledger and clears it.
// Entries for items or participants that no longer exist are skipped. When
// the transaction itself is gone the delta is cleared without writing. With no
// pending delta it does nothing. It returns the number of entries written.
func (s *Service) Apply(ctx context.Context, owner, groupID, txID string) (int, error) {
	delta, err := s.store.PendingDelta(ctx, owner, txID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load pending delta: %w", err)
	}

	book, err := s.store.Book(ctx, owner)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("load book: %w", err)
	}
	group := book.Group(groupID)
	var tx *ledger.Transaction
	if group != nil {
		tx = group.Transaction(txID)
	}
	if tx == nil {
		s.log.Info("pending delta dropped, transaction no longer exists",
			zap.String("owner", owner),
			zap.String("transaction", txID))
		if err := s.store.DeletePendingDelta(ctx, owner, txID); err != nil {
			return 0, fmt.Errorf("delete pending delta: %w", err)
		}
		return 0, nil
	}

	applied := 0
	for _, e := range delta.Entries {
		item := tx.Item(e.ItemIndex)
		if item == nil {
			continue
		}
		if err := ledger.SetAssignment(item, e.ParticipantIndex, e.Assigned, len(group.Participants)); err != nil {
			continue
		}
		applied++
	}

	if err := s.store.ApplyPendingDelta(ctx, book, owner, txID); err != nil {
		return 0, fmt.Errorf("apply pending delta: %w", err)
	}
	s.log.Info("pending delta applied",
		zap.String("owner", owner),
		zap.String("transaction", txID),
		zap.Int("applied", applied),
		zap.Int("skipped", len(delta.Entries)-applied))
	return applied, nil
}

// Discard drops the pending delta without touching the ledger.
func (s *Service) Discard(ctx context.Context, owner, txID string) error {
	if err := s.store.DeletePendingDelta(ctx, owner, txID); err != nil {
		return fmt.Errorf("delete pending delta: %w", err)
	}
	return nil
}

// Pending returns the pending delta of txID, or nil when there is none.
func (s *Service) Pending(ctx context.Context, owner, txID string) (*ledger.PendingDelta, error) {
	d, err := s.store.PendingDelta(ctx, owner, txID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// PendingCells returns the cells of the live transaction that the pending
// delta would change.
func (s *Service) PendingCells(ctx context.Context, owner, groupID, txID string) ([]Cell, error) {
	delta, err := s.Pending(ctx, owner, txID)
	if err != nil || delta == nil {
		return nil, err
	}
	book, err := s.store.Book(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	group := book.Group(groupID)
	if group == nil {
		return nil, nil
	}
	return ChangedCells(group.Transaction(txID), len(group.Participants), delta), nil
}

// Resolve fills a legacy snapshot from the owner's live book. Structured
// snapshots are returned unchanged.
func (s *Service) Resolve(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	if !snap.Legacy {
		return snap, nil
	}
	book, err := s.store.Book(ctx, snap.Owner)
	if err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	group := book.Group(snap.GroupID)
	if group == nil {
		return nil, store.ErrNotFound
	}
	if snap.Type == TypeFolder {
		return NewFolderSnapshot(snap.Owner, group), nil
	}
	tx := group.Transaction(snap.TransactionID)
	if tx == nil {
		return nil, store.ErrNotFound
	}
	return NewReceiptSnapshot(snap.Owner, group, tx), nil
}
