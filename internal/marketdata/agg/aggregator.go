// Package agg rolls lower-timeframe candle series up into higher
// timeframes. It is the fallback path for timeframes whose dataset is
// missing on disk; the normal path loads per-timeframe CSVs directly.
package agg

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"chart-replayv1/internal/model"
)

// Aggregator derives higher-timeframe series from lower ones. Derived
// series are memoised in an LRU cache: source series are immutable for
// the process lifetime, so (from, to, len) identifies a result.
type Aggregator struct {
	cache *lru.Cache
}

// New creates an Aggregator with a small derivation cache.
func New() *Aggregator {
	cache, _ := lru.New(32)
	return &Aggregator{cache: cache}
}

// Rollup aggregates src (candles of timeframe from) into timeframe to.
// Grouping key is the target-aligned open time; within a group
// open = first.open, close = last.close, high = max, low = min,
// volume = sum. src must be sorted ascending, which the candle store
// guarantees.
func (a *Aggregator) Rollup(src []model.Candle, from, to model.Timeframe) ([]model.Candle, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("invalid timeframe pair %s -> %s", from, to)
	}
	if to.Minutes() <= from.Minutes() {
		return nil, fmt.Errorf("cannot roll %s up into %s", from, to)
	}
	if to.Minutes()%from.Minutes() != 0 {
		return nil, fmt.Errorf("%s is not a multiple of %s", to, from)
	}
	if len(src) == 0 {
		return nil, nil
	}

	key := fmt.Sprintf("%s->%s:%d", from, to, len(src))
	if v, ok := a.cache.Get(key); ok {
		return v.([]model.Candle), nil
	}

	out := make([]model.Candle, 0, len(src)/(to.Minutes()/from.Minutes())+1)
	var cur model.Candle
	curBucket := int64(-1)

	for _, c := range src {
		bucket := to.Align(c.Time)
		if bucket != curBucket {
			if curBucket >= 0 {
				out = append(out, cur)
			}
			curBucket = bucket
			cur = model.Candle{
				Time:   bucket,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			}
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	out = append(out, cur)

	a.cache.Add(key, out)
	return out, nil
}
