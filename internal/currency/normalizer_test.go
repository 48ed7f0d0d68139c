package currency

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/ledger"
)

type stubSource struct {
	rates map[string]float64
	err   error
	calls int
}

func (s *stubSource) Rate(_ context.Context, _, code string) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	r, ok := s.rates[code]
	if !ok {
		return 0, errors.New("unknown currency")
	}
	return r, nil
}

func f(v float64) *float64 { return &v }

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer(src RateSource) *Normalizer {
	return NewNormalizer("EUR", src, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
}

func TestRateForBaseIsOne(t *testing.T) {
	src := &stubSource{}
	n := newTestNormalizer(src)

	assert.Equal(t, 1.0, n.RateFor(context.Background(), "eur"))
	assert.Zero(t, src.calls)
}

func TestRateForLiveAndCached(t *testing.T) {
	src := &stubSource{rates: map[string]float64{"USD": 1.08}}
	n := newTestNormalizer(src)

	assert.Equal(t, 1.08, n.RateFor(context.Background(), "USD"))
	assert.Equal(t, 1.08, n.RateFor(context.Background(), "usd"))
	assert.Equal(t, 1, src.calls)
}

func TestRateForFallsBack(t *testing.T) {
	tests := []struct {
		name string
		src  RateSource
		code string
		want float64
	}{
		{name: "network error", src: &stubSource{err: errors.New("dial tcp: timeout")}, code: "USD", want: 1.1},
		{name: "non-positive rate", src: &stubSource{rates: map[string]float64{"GBP": 0}}, code: "GBP", want: 0.85},
		{name: "nan rate", src: &stubSource{rates: map[string]float64{"JPY": math.NaN()}}, code: "JPY", want: 165},
		{name: "unknown code", src: &stubSource{err: errors.New("nope")}, code: "XYZ", want: 1},
		{name: "no source", src: nil, code: "SEK", want: 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(tt.src)
			assert.InDelta(t, tt.want, n.RateFor(context.Background(), tt.code), 1e-12)
		})
	}
}

func TestFallbackCrossRate(t *testing.T) {
	n := NewNormalizer("USD", nil, zap.NewNop())
	assert.Equal(t, 1.0, n.FallbackRate("USD"))
	assert.InDelta(t, 1/1.1, n.FallbackRate("EUR"), 1e-12)
}

func TestRetargetRescale(t *testing.T) {
	n := newTestNormalizer(&stubSource{rates: map[string]float64{"USD": 1.1}})
	tx := &ledger.Transaction{
		Currency: "EUR",
		Rate:     1.0,
		Items:    []ledger.LineItem{{Name: "Pizza", Quantity: 1, UnitPrice: f(10), Total: f(10), TotalBase: f(10)}},
	}

	n.Retarget(context.Background(), tx, "USD", true)

	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, 1.1, tx.Rate)
	assert.Equal(t, fixedNow, tx.RateTimestamp)
	it := tx.Items[0]
	assert.Equal(t, 10.0, *it.TotalBase)
	assert.InDelta(t, 11.0, *it.UnitPrice, 1e-9)
	assert.InDelta(t, 11.0, *it.Total, 1e-9)
}

func TestRetargetDerivesMissingBaseFromOldRate(t *testing.T) {
	n := newTestNormalizer(nil)
	tx := &ledger.Transaction{
		Currency: "GBP",
		Rate:     0.85,
		Items: []ledger.LineItem{
			{Name: "Tea", Quantity: 2, UnitPrice: f(1.7)},
			{Name: "Scone", Quantity: 0, Total: f(0.85)},
			{Name: "Empty", Quantity: 1},
		},
	}

	n.Retarget(context.Background(), tx, "EUR", true)

	require.NotNil(t, tx.Items[0].TotalBase)
	assert.InDelta(t, 4.0, *tx.Items[0].TotalBase, 1e-9)
	assert.InDelta(t, 2.0, *tx.Items[0].UnitPrice, 1e-9)
	assert.InDelta(t, 1.0, *tx.Items[1].TotalBase, 1e-9)
	assert.InDelta(t, 1.0, *tx.Items[1].Total, 1e-9)
	assert.Nil(t, tx.Items[2].TotalBase)
}

func TestRetargetWithoutRescaleKeepsDisplay(t *testing.T) {
	n := newTestNormalizer(nil)
	tx := &ledger.Transaction{
		Currency:       "EUR",
		Rate:           1.0,
		ManualOverride: true,
		Items:          []ledger.LineItem{{Quantity: 1, UnitPrice: f(10), Total: f(10), TotalBase: f(10)}},
	}

	n.Retarget(context.Background(), tx, "USD", false)

	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, 1.1, tx.Rate)
	assert.False(t, tx.ManualOverride)
	assert.Equal(t, 10.0, *tx.Items[0].UnitPrice)
	assert.Equal(t, 10.0, *tx.Items[0].TotalBase)
}

func TestApplyManualOverride(t *testing.T) {
	n := newTestNormalizer(nil)
	tx := &ledger.Transaction{
		Currency: "USD",
		Rate:     1.1,
		Items: []ledger.LineItem{
			{Quantity: 3, UnitPrice: f(1.1), Total: f(3.3), TotalBase: f(3)},
			{Quantity: 1, UnitPrice: f(2.2)},
		},
	}

	require.NoError(t, n.ApplyManualOverride(tx, 1.2, " bank statement "))

	assert.True(t, tx.ManualOverride)
	require.NotNil(t, tx.ManualReason)
	assert.Equal(t, "bank statement", *tx.ManualReason)
	assert.Equal(t, 1.2, tx.Rate)
	for _, it := range tx.Items {
		require.NotNil(t, it.TotalBase)
		assert.InDelta(t, *it.TotalBase*tx.Rate, *it.UnitPrice*float64(it.Quantity), 1e-9)
	}
	assert.InDelta(t, 2.0, *tx.Items[1].TotalBase, 1e-9)
}

func TestApplyManualOverrideRejectsInvalidRate(t *testing.T) {
	n := newTestNormalizer(nil)
	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		tx := &ledger.Transaction{Currency: "USD", Rate: 1.1, Items: []ledger.LineItem{{Quantity: 1, UnitPrice: f(1.1), TotalBase: f(1)}}}
		err := n.ApplyManualOverride(tx, r, "typo")
		assert.True(t, ledger.IsValidation(err))
		assert.Equal(t, 1.1, tx.Rate)
		assert.False(t, tx.ManualOverride)
		assert.Equal(t, 1.1, *tx.Items[0].UnitPrice)
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		assert.Equal(t, "EUR", r.URL.Query().Get("base"))
		switch r.URL.Query().Get("symbols") {
		case "USD":
			w.Write([]byte(`{"rates":{"USD":1.0834}}`))
		case "BAD":
			w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	r, err := src.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, 1.0834, r)

	_, err = src.Rate(context.Background(), "EUR", "BAD")
	assert.Error(t, err)
	_, err = src.Rate(context.Background(), "EUR", "CHF")
	assert.Error(t, err)

	n := newTestNormalizer(src)
	assert.Equal(t, 0.95, n.RateFor(context.Background(), "CHF"))
}

func TestFormat(t *testing.T) {
	assert.Contains(t, Format(10.5, "EUR"), "10.50")
	assert.Contains(t, Format(10.5, "EUR"), "€")
	assert.Contains(t, Format(1234.5, "JPY"), "235")
	assert.Equal(t, "3.14 XYZ", Format(3.14159, "XYZ"))
	assert.Equal(t, 2.68, Round2(2.675))
	assert.Equal(t, -1.01, Round2(-1.005))
	assert.Equal(t, "€", Symbol("eur"))
	assert.Equal(t, "XYZ", Symbol("XYZ"))
}
