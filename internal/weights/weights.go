// Package weights maintains the adaptive indicator weight table: every
// indicator's share of the combined signal shifts with its recent
// single-shot prediction accuracy.
package weights

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/models"
)

// fallbackWeight is used for indicators missing from the table.
const fallbackWeight = 0.1

type performance struct {
	success    int
	total      int
	lastSignal *float64
	lastPrice  *float64
}

// Tracker owns the weight table and the live per-indicator accuracy
// state. All access goes through the mutex; the weight table is
// replaced wholesale on rebalance, never mutated in place.
type Tracker struct {
	mu             sync.Mutex
	weights        map[string]float64
	perf           map[string]*performance
	minWeight      float64
	maxWeight      float64
	updateInterval time.Duration
	lastUpdate     time.Time
	logger         zerolog.Logger
}

// DefaultWeights is the initial table before any adaptation.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		models.IndicatorRSI:    0.25,
		models.IndicatorMACD:   0.25,
		models.IndicatorBB:     0.20,
		models.IndicatorEMA:    0.15,
		models.IndicatorVolume: 0.15,
	}
}

func NewTracker(minWeight, maxWeight float64, updateInterval time.Duration) *Tracker {
	t := &Tracker{
		weights:        DefaultWeights(),
		perf:           make(map[string]*performance),
		minWeight:      minWeight,
		maxWeight:      maxWeight,
		updateInterval: updateInterval,
		lastUpdate:     time.Now(),
		logger:         log.With().Str("component", "weights").Logger(),
	}
	for name := range t.weights {
		t.perf[name] = &performance{}
	}
	return t
}

// Weight returns the current weight for an indicator, falling back to
// a small default for names outside the table.
func (t *Tracker) Weight(name string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.weights[name]; ok {
		return w
	}
	return fallbackWeight
}

// Weights returns a copy of the current table.
func (t *Tracker) Weights() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.weights))
	for name, w := range t.weights {
		out[name] = w
	}
	return out
}

// RecordSignal stores an indicator's latest non-neutral signal and the
// price it was issued at, to be scored against the next observation.
func (t *Tracker) RecordSignal(name string, signalValue, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.perf[name]
	if !ok {
		return
	}
	s := signalValue
	p := price
	entry.lastSignal = &s
	entry.lastPrice = &p
}

// ObservePrice scores every pending signal against the new price and
// clears it. Each recorded signal is evaluated exactly once.
func (t *Tracker) ObservePrice(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.perf {
		if entry.lastSignal == nil || entry.lastPrice == nil || *entry.lastPrice == 0 {
			entry.lastSignal = nil
			entry.lastPrice = nil
			continue
		}

		priceChange := (price - *entry.lastPrice) / *entry.lastPrice
		if (*entry.lastSignal > 0 && priceChange > 0) || (*entry.lastSignal < 0 && priceChange < 0) {
			entry.success++
		}
		entry.total++
		entry.lastSignal = nil
		entry.lastPrice = nil
	}
}

// SuccessRate reports an indicator's hit rate, neutral 0.5 before any
// observation.
func (t *Tracker) SuccessRate(name string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.successRateLocked(name)
}

func (t *Tracker) successRateLocked(name string) float64 {
	entry, ok := t.perf[name]
	if !ok || entry.total == 0 {
		return 0.5
	}
	return float64(entry.success) / float64(entry.total)
}

// MaybeRebalance rebuilds the weight table when the update interval
// has elapsed. The time check and the table swap happen under one lock
// so concurrent callers cannot rebalance twice.
func (t *Tracker) MaybeRebalance(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastUpdate) < t.updateInterval {
		return false
	}
	t.lastUpdate = now
	t.rebalanceLocked()
	return true
}

// Rebalance forces an immediate table rebuild.
func (t *Tracker) Rebalance() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUpdate = time.Now()
	t.rebalanceLocked()
}

func (t *Tracker) rebalanceLocked() {
	rates := make(map[string]float64, len(t.weights))
	var totalRate float64
	for name := range t.weights {
		rate := t.successRateLocked(name)
		rates[name] = rate
		totalRate += rate
	}

	// A zero total rate would divide by zero; keep the table as is
	if totalRate == 0 {
		return
	}

	next := make(map[string]float64, len(t.weights))
	for name := range t.weights {
		next[name] = rates[name] / totalRate
	}

	// Clamping breaks the sum-to-one property, and a naive global
	// renormalization can push a clamped weight back out of bounds.
	// Instead, spread the post-clamp residual over the weights still
	// strictly inside the bounds until the table is stable. Every pass
	// pins at least one more weight at a bound, so the loop terminates
	// within len(next) iterations.
	for range next {
		var sum float64
		for name, w := range next {
			if w < t.minWeight {
				w = t.minWeight
			}
			if w > t.maxWeight {
				w = t.maxWeight
			}
			next[name] = w
			sum += w
		}
		residual := 1 - sum
		if math.Abs(residual) < 1e-12 {
			break
		}
		var freeSum float64
		for _, w := range next {
			if (residual > 0 && w < t.maxWeight) || (residual < 0 && w > t.minWeight) {
				freeSum += w
			}
		}
		if freeSum == 0 {
			break
		}
		for name, w := range next {
			if (residual > 0 && w < t.maxWeight) || (residual < 0 && w > t.minWeight) {
				next[name] = w + residual*w/freeSum
			}
		}
	}

	t.weights = next
	t.logger.Info().Interface("weights", next).Msg("Rebalanced indicator weights")
}
