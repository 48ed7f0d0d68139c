package settlement

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/receiptsplit/internal/currency"
	"github.com/susu3304/receiptsplit/internal/ledger"
)

func f(v float64) *float64 { return &v }

func item(name string, total float64, assigned ...int) ledger.LineItem {
	it := ledger.LineItem{Name: name, Quantity: 1, UnitPrice: f(total), Total: f(total), TotalBase: f(total), Assigned: map[int]bool{}}
	for _, a := range assigned {
		it.Assigned[a] = true
	}
	return it
}

func tx(payer *int, items ...ledger.LineItem) *ledger.Transaction {
	return &ledger.Transaction{ID: "t", Currency: "EUR", Rate: 1, Payer: payer, Items: items}
}

func idx(i int) *int { return &i }

func people(names ...string) []ledger.Participant {
	out := make([]ledger.Participant, len(names))
	for i, n := range names {
		out[i] = ledger.Participant{Name: n}
	}
	return out
}

func TestComputeSharedPizza(t *testing.T) {
	g := &ledger.Group{
		Participants: people("A", "B"),
		Transactions: []*ledger.Transaction{tx(idx(0), item("Pizza", 10, 0, 1))},
	}

	res, err := Compute(g)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{5, -5}, res.Net, 1e-9)
	assert.InDeltaSlice(t, []float64{5, 5}, res.Consumption, 1e-9)
	assert.InDelta(t, 5.0, res.Debts[1][0], 1e-9)
	assert.Zero(t, res.Debts[0][1])

	transfers := Settle(res.Net)
	require.Len(t, transfers, 1)
	assert.Equal(t, Transfer{From: 1, To: 0, Amount: 5}, transfers[0])
}

func TestComputeUnassignedItem(t *testing.T) {
	g := &ledger.Group{
		Participants: people("A", "B"),
		Transactions: []*ledger.Transaction{tx(idx(0), item("Pizza", 10))},
	}

	res, err := Compute(g)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, res.Net)
	assert.Empty(t, Settle(res.Net))
	assert.Equal(t, 10.0, Unassigned(g))
}

func TestComputeExcludedParticipant(t *testing.T) {
	g := &ledger.Group{
		Participants: []ledger.Participant{{Name: "A"}, {Name: "B", Excluded: true}, {Name: "C"}},
		Transactions: []*ledger.Transaction{
			tx(idx(0), item("Wine", 30, 0, 1, 2)),
			tx(idx(1), item("Bread", 6, 0, 2)),
		},
	}

	res, err := Compute(g)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, res.Active)
	assert.Equal(t, []string{"A", "C"}, res.Names)
	// Wine splits between A and C; the bread payer is excluded so nobody is credited.
	assert.InDeltaSlice(t, []float64{15 - 3, -15 - 3}, res.Net, 1e-9)
	assert.InDelta(t, 6.0, Unsourced(g), 1e-9)
}

func TestComputeNoPayer(t *testing.T) {
	g := &ledger.Group{
		Participants: people("A", "B"),
		Transactions: []*ledger.Transaction{tx(nil, item("Coffee", 4, 0, 1))},
	}

	res, err := Compute(g)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-2, -2}, res.Net, 1e-9)
	assert.InDelta(t, 4.0, Unsourced(g), 1e-9)
	assert.Equal(t, [][]float64{{0, 0}, {0, 0}}, res.Debts)
}

func TestComputeHiddenStillCounts(t *testing.T) {
	hidden := tx(idx(1), item("Taxi", 20, 0, 1))
	hidden.Hidden = true
	g := &ledger.Group{Participants: people("A", "B"), Transactions: []*ledger.Transaction{hidden}}

	res, err := Compute(g)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-10, 10}, res.Net, 1e-9)
}

func TestComputeUsesBaseValue(t *testing.T) {
	usd := &ledger.Transaction{
		Currency: "USD",
		Rate:     1.1,
		Payer:    idx(0),
		Items: []ledger.LineItem{
			{Name: "Burger", Quantity: 1, Total: f(11), Assigned: map[int]bool{1: true}},
		},
	}
	g := &ledger.Group{Participants: people("A", "B"), Transactions: []*ledger.Transaction{usd}}

	res, err := Compute(g)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, -10}, res.Net, 1e-9)
}

func TestComputeNoActiveParticipants(t *testing.T) {
	g := &ledger.Group{Participants: []ledger.Participant{{Name: "A", Excluded: true}}}
	_, err := Compute(g)
	assert.ErrorIs(t, err, ErrNoActiveParticipants)

	_, err = Compute(&ledger.Group{})
	assert.True(t, ledger.IsValidation(err))
}

func TestNetSumsToZeroAndTransfersSettle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := 2 + rng.Intn(6)
		g := &ledger.Group{Participants: make([]ledger.Participant, n)}
		for k := 0; k < 1+rng.Intn(5); k++ {
			trx := tx(idx(rng.Intn(n)))
			for m := 0; m < 1+rng.Intn(6); m++ {
				it := item("x", math.Round(rng.Float64()*10000)/100)
				for p := 0; p < n; p++ {
					if rng.Intn(2) == 0 {
						it.Assigned[p] = true
					}
				}
				trx.Items = append(trx.Items, it)
			}
			g.Transactions = append(g.Transactions, trx)
		}

		res, err := Compute(g)
		require.NoError(t, err)
		var sum float64
		for _, v := range res.Net {
			sum += v
		}
		require.Less(t, math.Abs(sum), 0.01)

		assertReplaySettles(t, res.Net)
	}
}

// assertReplaySettles applies the suggested transfers to net and checks that
// every participant ends within a cent of zero.
func assertReplaySettles(t *testing.T, net []float64) {
	t.Helper()
	remaining := append([]float64(nil), net...)
	transfers := Settle(net)
	nonzero := 0
	for _, c := range toCents(net) {
		if c != 0 {
			nonzero++
		}
	}
	if nonzero > 0 {
		assert.LessOrEqual(t, len(transfers), nonzero-1)
	}
	for _, tr := range transfers {
		assert.Greater(t, tr.Amount, 0.0)
		assert.Equal(t, currency.Round2(tr.Amount), tr.Amount)
		remaining[tr.From] += tr.Amount
		remaining[tr.To] -= tr.Amount
	}
	for i, v := range remaining {
		assert.Less(t, math.Abs(v), 0.01, "participant %d of %v", i, net)
	}
}

func TestSettleReplayWithThirdsAndSevenths(t *testing.T) {
	third := 61.25 / 3
	assertReplaySettles(t, []float64{-third, -third, -(58.53 - 2*third), 58.53, 0})

	seventh := 100.0 / 7
	net := make([]float64, 8)
	for i := 1; i < 8; i++ {
		net[i] = -seventh
	}
	net[0] = 100
	assertReplaySettles(t, net)

	// Cent-priced items split among 1..n people, the payer credited the full total.
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 2000; round++ {
		n := 2 + rng.Intn(5)
		g := &ledger.Group{Participants: make([]ledger.Participant, n)}
		for k := 0; k < 1+rng.Intn(4); k++ {
			trx := tx(idx(rng.Intn(n)))
			for m := 0; m < 1+rng.Intn(5); m++ {
				it := item("x", float64(1+rng.Intn(10000))/100)
				for _, p := range rng.Perm(n)[:1+rng.Intn(n)] {
					it.Assigned[p] = true
				}
				trx.Items = append(trx.Items, it)
			}
			g.Transactions = append(g.Transactions, trx)
		}
		res, err := Compute(g)
		require.NoError(t, err)
		assertReplaySettles(t, res.Net)
	}
}

func TestToCentsKeepsTotal(t *testing.T) {
	third := 10.0 / 3
	got := toCents([]float64{-third, -third, -third, 10})
	assert.Equal(t, []int64{-333, -333, -334, 1000}, got)
	var sum int64
	for _, c := range got {
		sum += c
	}
	assert.Zero(t, sum)
	assert.Equal(t, []int64{0, 0}, toCents([]float64{0.004, -0.004}))
}

func TestSettleDoesNotMutateInput(t *testing.T) {
	net := []float64{30, -10, -20}
	transfers := Settle(net)
	assert.Equal(t, []float64{30, -10, -20}, net)
	assert.Equal(t, []Transfer{{From: 2, To: 0, Amount: 20}, {From: 1, To: 0, Amount: 10}}, transfers)
}

func TestSettleIgnoresDust(t *testing.T) {
	assert.Empty(t, Settle([]float64{0.004, -0.004}))
	assert.Empty(t, Settle(nil))
}

func TestSummary(t *testing.T) {
	g := &ledger.Group{
		Participants: people("Alice", "Bob"),
		Transactions: []*ledger.Transaction{tx(idx(0), item("Pizza", 10, 0, 1))},
	}
	res, err := Compute(g)
	require.NoError(t, err)

	out := Summary(res, Settle(res.Net), "EUR")
	assert.Contains(t, out, "Totals per person:")
	assert.Contains(t, out, "Bob → Alice")
	assert.Contains(t, out, "Bob owes Alice")
	assert.Contains(t, out, "5.00")

	empty := Summary(&Result{Names: []string{"A"}, Consumption: []float64{0}, Debts: [][]float64{{0}}}, nil, "EUR")
	assert.Contains(t, empty, "No transfers needed")
	assert.NotContains(t, empty, "Direct debts")
}
