package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/susu3304/receiptsplit/internal/ledger"
)

// Memory keeps everything in process. Documents are copied on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu      sync.Mutex
	books   map[string][]byte
	pending map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		books:   make(map[string][]byte),
		pending: make(map[string]map[string][]byte),
	}
}

func (m *Memory) Book(_ context.Context, owner string) (*ledger.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.books[owner]
	if !ok {
		return nil, ErrNotFound
	}
	var b ledger.Book
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode book: %w", err)
	}
	return &b, nil
}

func (m *Memory) SaveBook(_ context.Context, book *ledger.Book) error {
	raw, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode book: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[book.Owner] = raw
	return nil
}

func (m *Memory) PendingDelta(_ context.Context, owner, txID string) (*ledger.PendingDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.pending[owner][txID]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeDelta(raw)
}

func (m *Memory) PendingDeltas(_ context.Context, owner string) ([]*ledger.PendingDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.PendingDelta
	for _, raw := range m.pending[owner] {
		d, err := decodeDelta(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (m *Memory) PendingOwners(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for owner, byTx := range m.pending {
		if len(byTx) > 0 {
			out = append(out, owner)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) PutPendingDelta(_ context.Context, delta *ledger.PendingDelta) error {
	raw, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[delta.OwnerID] == nil {
		m.pending[delta.OwnerID] = make(map[string][]byte)
	}
	m.pending[delta.OwnerID][delta.TransactionID] = raw
	return nil
}

func (m *Memory) DeletePendingDelta(_ context.Context, owner, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(owner, txID)
	return nil
}

func (m *Memory) ApplyPendingDelta(_ context.Context, book *ledger.Book, owner, txID string) error {
	raw, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode book: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[book.Owner] = raw
	m.deleteLocked(owner, txID)
	return nil
}

func (m *Memory) deleteLocked(owner, txID string) {
	byTx, ok := m.pending[owner]
	if !ok {
		return
	}
	delete(byTx, txID)
	if len(byTx) == 0 {
		delete(m.pending, owner)
	}
}

func decodeDelta(raw []byte) (*ledger.PendingDelta, error) {
	var d ledger.PendingDelta
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode delta: %w", err)
	}
	return &d, nil
}
