// Package validate enforces the OHLC invariants on every candle batch
// before it reaches the wire. The chart client must never receive an
// empty array, so sanitization that would drop everything substitutes
// a single minimal fallback candle instead.
package validate

import (
	"log"
	"sync"
	"time"

	"chart-replayv1/internal/model"
)

// Validator filters candle batches. Price bounds are configurable; the
// defaults fit the documented instrument.
type Validator struct {
	MinPrice float64
	MaxPrice float64

	mu       sync.Mutex
	lastGood float64

	now func() time.Time // override in tests
}

// New creates a Validator with the default (1e3, 1e6) price bounds.
func New() *Validator {
	return &Validator{
		MinPrice: 1e3,
		MaxPrice: 1e6,
		now:      time.Now,
	}
}

// Valid reports whether a single candle passes all checks. Volume is
// not a rejection criterion; a negative or NaN volume is fixed to 0 by
// Sanitize.
func (v *Validator) Valid(c model.Candle) bool {
	if c.Time <= 0 || !c.Finite() {
		return false
	}
	for _, p := range []float64{c.Open, c.High, c.Low, c.Close} {
		if p <= v.MinPrice || p >= v.MaxPrice {
			return false
		}
	}
	return c.OHLCConsistent()
}

// Sanitize filters candles, fixing volume in place. If nothing survives
// it returns a single synthetic candle priced at the last known
// reasonable close so downstream rendering never sees an empty array.
func (v *Validator) Sanitize(candles []model.Candle) []model.Candle {
	out := make([]model.Candle, 0, len(candles))
	dropped := 0
	for _, c := range candles {
		// A candle whose only defect is its volume is repairable.
		if vol := c.Volume; vol < 0 || vol != vol {
			c.Volume = 0
		}
		if !v.Valid(c) {
			dropped++
			continue
		}
		out = append(out, c)
	}

	if len(out) > 0 {
		v.mu.Lock()
		v.lastGood = out[len(out)-1].Close
		v.mu.Unlock()
		if dropped > 0 {
			log.Printf("[validate] dropped %d invalid candles", dropped)
		}
		return out
	}

	log.Printf("[validate] batch of %d candles fully rejected, substituting fallback", len(candles))
	return []model.Candle{v.fallback()}
}

// fallback builds the minimal valid substitute candle.
func (v *Validator) fallback() model.Candle {
	v.mu.Lock()
	price := v.lastGood
	v.mu.Unlock()
	if price <= v.MinPrice || price >= v.MaxPrice {
		// No valid candle seen yet; sit just inside the lower bound.
		price = v.MinPrice + 1
	}
	return model.Candle{
		Time:   v.now().UTC().Unix(),
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: 0,
	}
}
