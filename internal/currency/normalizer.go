package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/ledger"
)

// Fallback rates relative to EUR, used whenever no live rate is available.
var DefaultRates = map[string]float64{
	"EUR": 1.0,
	"USD": 1.1,
	"GBP": 0.85,
	"CHF": 0.95,
	"SEK": 11.0,
	"JPY": 165.0,
	"ALL": 110.0,
}

type Normalizer struct {
	base    string
	source  RateSource
	cache   *cache.Cache
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Normalizer)

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func WithTimeout(d time.Duration) Option {
	return func(n *Normalizer) { n.timeout = d }
}

// NewNormalizer builds a normalizer for the given base currency. source may be nil,
// in which case only the fallback table is used.
func NewNormalizer(base string, source RateSource, log *zap.Logger, opts ...Option) *Normalizer {
	if base == "" {
		base = "EUR"
	}
	n := &Normalizer{
		base:    strings.ToUpper(base),
		source:  source,
		cache:   cache.New(time.Hour, 10*time.Minute),
		timeout: 5 * time.Second,
		now:     time.Now,
		log:     log,
	}
	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rate-source",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("rate source breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) Base() string { return n.base }

// FallbackRate returns the built-in rate of code against the normalizer base.
func (n *Normalizer) FallbackRate(code string) float64 {
	code = strings.ToUpper(code)
	if code == n.base {
		return 1.0
	}
	r, ok := DefaultRates[code]
	if !ok {
		return 1.0
	}
	if b, ok := DefaultRates[n.base]; ok {
		return r / b
	}
	return r
}

// RateFor resolves the rate of code against the base currency. It never fails:
// lookup errors fall back to the built-in table.
func (n *Normalizer) RateFor(ctx context.Context, code string) float64 {
	code = strings.ToUpper(code)
	if code == n.base {
		return 1.0
	}
	if v, ok := n.cache.Get(code); ok {
		return v.(float64)
	}
	if n.source == nil {
		return n.FallbackRate(code)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	res, err := n.breaker.Execute(func() (interface{}, error) {
		r, err := n.source.Rate(ctx, n.base, code)
		if err != nil {
			return nil, err
		}
		if !ledger.ValidRate(r) {
			return nil, fmt.Errorf("unusable rate %v for %s", r, code)
		}
		return r, nil
	})
	if err != nil {
		fields := []zap.Field{zap.String("currency", code), zap.Error(err)}
		if errors.Is(err, gobreaker.ErrOpenState) {
			n.log.Debug("rate lookup skipped, using fallback", fields...)
		} else {
			n.log.Warn("rate lookup failed, using fallback", fields...)
		}
		return n.FallbackRate(code)
	}

	r := res.(float64)
	n.cache.SetDefault(code, r)
	return r
}

// Retarget switches the display currency of tx. With rescale set, every item's
// display values are recomputed from its base value at the new rate; otherwise
// existing display values are left untouched under the new label.
func (n *Normalizer) Retarget(ctx context.Context, tx *ledger.Transaction, code string, rescale bool) {
	code = strings.ToUpper(code)
	oldRate := tx.Rate
	if !ledger.ValidRate(oldRate) {
		oldRate = n.FallbackRate(tx.Currency)
	}
	newRate := n.RateFor(ctx, code)

	if rescale {
		rescaleItems(tx, oldRate, newRate)
	}
	tx.Currency = code
	tx.Rate = newRate
	tx.RateTimestamp = n.now()
	tx.ManualOverride = false
	tx.ManualReason = nil
}

// ApplyManualOverride pins the exchange rate of tx and recomputes display values.
func (n *Normalizer) ApplyManualOverride(tx *ledger.Transaction, rate float64, reason string) error {
	if !ledger.ValidRate(rate) {
		return &ledger.ValidationError{Field: "rate", Reason: fmt.Sprintf("%v is not a positive number", rate)}
	}
	oldRate := tx.Rate
	if !ledger.ValidRate(oldRate) {
		oldRate = n.FallbackRate(tx.Currency)
	}

	rescaleItems(tx, oldRate, rate)
	tx.Rate = rate
	tx.RateTimestamp = n.now()
	tx.ManualOverride = true
	if reason = strings.TrimSpace(reason); reason != "" {
		tx.ManualReason = &reason
	} else {
		tx.ManualReason = nil
	}
	return nil
}

func rescaleItems(tx *ledger.Transaction, oldRate, newRate float64) {
	for i := range tx.Items {
		tx.Items[i].Rescale(oldRate, newRate)
	}
}
