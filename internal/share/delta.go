package share

import (
	"sort"

	"github.com/susu3304/receiptsplit/internal/ledger"
)

// ComputeDelta compares a collaborator's checkbox state for one identity with
// the snapshot's assignment state and returns only the cells that differ,
// ordered by item index. Items missing from checked keep their snapshot value.
func ComputeDelta(tx *Transaction, identity int, checked map[int]bool) []ledger.DeltaEntry {
	if tx == nil {
		return nil
	}
	idxs := make([]int, 0, len(checked))
	for i := range checked {
		if i >= 0 && i < len(tx.Items) {
			idxs = append(idxs, i)
		}
	}
	sort.Ints(idxs)

	var out []ledger.DeltaEntry
	for _, i := range idxs {
		original := tx.Items[i].Assigned[identity]
		if checked[i] != original {
			out = append(out, ledger.DeltaEntry{ItemIndex: i, ParticipantIndex: identity, Assigned: checked[i]})
		}
	}
	return out
}

// Cell is a ledger cell targeted by a pending delta whose proposed value
// differs from the live one.
type Cell struct {
	ItemIndex        int  `json:"itemIndex"`
	ParticipantIndex int  `json:"personIndex"`
	Current          bool `json:"current"`
	Proposed         bool `json:"proposed"`
}

// ChangedCells lists the entries of delta that would change tx if applied.
// Entries for items or participants that no longer exist are left out.
func ChangedCells(tx *ledger.Transaction, participants int, delta *ledger.PendingDelta) []Cell {
	if tx == nil || delta == nil {
		return nil
	}
	var out []Cell
	for _, e := range delta.Entries {
		item := tx.Item(e.ItemIndex)
		if item == nil || e.ParticipantIndex < 0 || e.ParticipantIndex >= participants {
			continue
		}
		cur := ledger.IsAssigned(item, e.ParticipantIndex)
		if cur != e.Assigned {
			out = append(out, Cell{ItemIndex: e.ItemIndex, ParticipantIndex: e.ParticipantIndex, Current: cur, Proposed: e.Assigned})
		}
	}
	return out
}
