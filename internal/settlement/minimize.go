package settlement

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Transfer is a suggested payment between two active participants.
type Transfer struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Amount float64 `json:"amount"`
}

type bal struct {
	idx   int
	cents int64
}

// Settle turns net balances into transfers by greedily matching the largest
// remaining creditor with the largest remaining debtor. Balances are first
// rounded to whole cents, so replaying the transfers leaves every participant
// less than a cent away from zero. It produces at most creditors+debtors-1
// transfers but is not guaranteed to find the fewest.
func Settle(net []float64) []Transfer {
	var pos, neg []bal
	for idx, c := range toCents(net) {
		if c > 0 {
			pos = append(pos, bal{idx: idx, cents: c})
		} else if c < 0 {
			neg = append(neg, bal{idx: idx, cents: -c})
		}
	}
	sort.SliceStable(pos, func(i, j int) bool { return pos[i].cents > pos[j].cents })
	sort.SliceStable(neg, func(i, j int) bool { return neg[i].cents > neg[j].cents })

	var transfers []Transfer
	i, j := 0, 0
	for i < len(pos) && j < len(neg) {
		c := &pos[i]
		d := &neg[j]
		amt := c.cents
		if d.cents < amt {
			amt = d.cents
		}
		transfers = append(transfers, Transfer{From: d.idx, To: c.idx, Amount: decimal.New(amt, -2).InexactFloat64()})
		c.cents -= amt
		d.cents -= amt
		if c.cents == 0 {
			i++
		}
		if d.cents == 0 {
			j++
		}
	}
	return transfers
}

// toCents rounds balances to cents with the largest remainder method: the
// rounded values sum to the rounded total and each one moves by less than a
// cent.
func toCents(net []float64) []int64 {
	out := make([]int64, len(net))
	rem := make([]decimal.Decimal, len(net))
	total := decimal.Zero
	var floors int64
	for i, v := range net {
		d := decimal.NewFromFloat(v).Shift(2)
		fl := d.Floor()
		out[i] = fl.IntPart()
		rem[i] = d.Sub(fl)
		total = total.Add(d)
		floors += out[i]
	}

	order := make([]int, len(net))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return rem[order[a]].GreaterThan(rem[order[b]]) })

	extra := total.Round(0).IntPart() - floors
	for k := 0; int64(k) < extra && k < len(order); k++ {
		out[order[k]]++
	}
	return out
}
