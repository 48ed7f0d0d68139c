package settlement

import (
	"github.com/susu3304/receiptsplit/internal/ledger"
)

// Epsilon is the tolerance below which a balance counts as settled.
const Epsilon = 0.005

var ErrNoActiveParticipants = &ledger.ValidationError{Field: "participants", Reason: "no active participants"}

// Result is expressed in a dense index space over the active participants:
// Active[i] is the group position of active participant i.
type Result struct {
	Active      []int       `json:"active"`
	Names       []string    `json:"names"`
	Consumption []float64   `json:"consumption"`
	Net         []float64   `json:"net"`
	Debts       [][]float64 `json:"debts"`
}

// Compute aggregates every transaction of the group into per-participant net
// balances and a pairwise matrix of what each consumer owes each payer.
// Values stay unrounded.
func Compute(group *ledger.Group) (*Result, error) {
	active := group.ActiveIndices()
	if len(active) == 0 {
		return nil, ErrNoActiveParticipants
	}
	n := len(active)
	dense := make(map[int]int, n)
	names := make([]string, n)
	for ai, idx := range active {
		dense[idx] = ai
		names[ai] = group.Participants[idx].Name
	}

	res := &Result{
		Active:      active,
		Names:       names,
		Consumption: make([]float64, n),
		Net:         make([]float64, n),
		Debts:       make([][]float64, n),
	}
	for i := range res.Debts {
		res.Debts[i] = make([]float64, n)
	}

	for _, tx := range group.Transactions {
		sums := make([]float64, n)
		for i := range tx.Items {
			item := &tx.Items[i]
			base, ok := item.BaseValue(tx.Rate)
			if !ok || base == 0 {
				continue
			}
			assignees := ledger.ActiveAssignees(item, group.Participants)
			if len(assignees) == 0 {
				continue
			}
			share := base / float64(len(assignees))
			for _, idx := range assignees {
				sums[dense[idx]] += share
			}
		}

		var spent float64
		for ai, v := range sums {
			spent += v
			res.Consumption[ai] += v
			res.Net[ai] -= v
		}

		payer, ok := activePayer(group, tx)
		if !ok {
			continue
		}
		pa := dense[payer]
		// Own share was debited above; the payer nets spent minus consumption.
		res.Net[pa] += spent
		for ai, v := range sums {
			if ai != pa {
				res.Debts[ai][pa] += v
			}
		}
	}
	return res, nil
}

func activePayer(group *ledger.Group, tx *ledger.Transaction) (int, bool) {
	p, ok := tx.PayerIndex()
	if !ok || p < 0 || p >= len(group.Participants) {
		return 0, false
	}
	if group.Participants[p].Excluded {
		return 0, false
	}
	return p, true
}

// Unsourced returns the base value consumed in transactions that have no
// active payer; that amount is debited to consumers but credited to nobody.
func Unsourced(group *ledger.Group) float64 {
	var total float64
	for _, tx := range group.Transactions {
		if _, ok := activePayer(group, tx); ok {
			continue
		}
		for i := range tx.Items {
			if len(ledger.ActiveAssignees(&tx.Items[i], group.Participants)) == 0 {
				continue
			}
			if v, ok := tx.Items[i].BaseValue(tx.Rate); ok {
				total += v
			}
		}
	}
	return total
}

// Unassigned returns the base value of items nobody active consumes.
func Unassigned(group *ledger.Group) float64 {
	var total float64
	for _, tx := range group.Transactions {
		for i := range tx.Items {
			if len(ledger.ActiveAssignees(&tx.Items[i], group.Participants)) > 0 {
				continue
			}
			if v, ok := tx.Items[i].BaseValue(tx.Rate); ok {
				total += v
			}
		}
	}
	return total
}
