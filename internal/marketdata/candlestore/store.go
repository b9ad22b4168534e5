// Package candlestore holds the immutable per-timeframe historical
// candle series. Each series is loaded once at startup, sorted by open
// time and deduplicated; after that the store is read-only and shared
// without locking.
package candlestore

import (
	"fmt"
	"log"
	"sort"

	"chart-replayv1/internal/model"
)

// ErrTimeframeUnavailable is returned when a timeframe has no loaded series.
var ErrTimeframeUnavailable = fmt.Errorf("timeframe unavailable")

// Store maps timeframes to their historical candle series.
type Store struct {
	series map[model.Timeframe][]model.Candle
}

// New creates an empty store.
func New() *Store {
	return &Store{series: make(map[model.Timeframe][]model.Candle)}
}

// Put installs a series for a timeframe. The slice is normalized:
// sorted ascending by time, duplicate timestamps removed (last write
// wins, matching the CSV loader's row order). Empty input leaves the
// timeframe unavailable.
func (s *Store) Put(tf model.Timeframe, candles []model.Candle) {
	if len(candles) == 0 {
		return
	}
	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	dedup := sorted[:0]
	for _, c := range sorted {
		if n := len(dedup); n > 0 && dedup[n-1].Time == c.Time {
			dedup[n-1] = c // last write wins
			continue
		}
		dedup = append(dedup, c)
	}
	s.series[tf] = dedup
	log.Printf("[candlestore] installed %s series: %d candles", tf, len(dedup))
}

// Available reports whether the timeframe has a loaded series.
func (s *Store) Available(tf model.Timeframe) bool {
	return len(s.series[tf]) > 0
}

// AvailableTimeframes returns the loaded timeframes in interval order.
func (s *Store) AvailableTimeframes() []model.Timeframe {
	var tfs []model.Timeframe
	for _, tf := range model.Timeframes() {
		if s.Available(tf) {
			tfs = append(tfs, tf)
		}
	}
	return tfs
}

// Len returns the series length for a timeframe (0 when unavailable).
func (s *Store) Len(tf model.Timeframe) int {
	return len(s.series[tf])
}

// Series returns the full immutable series for a timeframe. Callers
// must not mutate the returned slice.
func (s *Store) Series(tf model.Timeframe) ([]model.Candle, error) {
	series := s.series[tf]
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTimeframeUnavailable, tf)
	}
	return series, nil
}

// At returns the candle at index i.
func (s *Store) At(tf model.Timeframe, i int) (model.Candle, error) {
	series := s.series[tf]
	if len(series) == 0 {
		return model.Candle{}, fmt.Errorf("%w: %s", ErrTimeframeUnavailable, tf)
	}
	if i < 0 || i >= len(series) {
		return model.Candle{}, fmt.Errorf("index %d out of range for %s (len %d)", i, tf, len(series))
	}
	return series[i], nil
}

// First returns the earliest candle of the series.
func (s *Store) First(tf model.Timeframe) (model.Candle, error) {
	return s.At(tf, 0)
}

// Last returns the latest candle of the series.
func (s *Store) Last(tf model.Timeframe) (model.Candle, error) {
	return s.At(tf, len(s.series[tf])-1)
}

// FindIndex returns the index of the candle whose open time is the
// greatest value <= target. If target precedes the whole series the
// first index (0) is returned, never an arbitrary offset.
func (s *Store) FindIndex(tf model.Timeframe, target int64) (int, error) {
	series := s.series[tf]
	if len(series) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrTimeframeUnavailable, tf)
	}
	// First index with time > target; the answer is one before it.
	i := sort.Search(len(series), func(i int) bool { return series[i].Time > target })
	if i == 0 {
		return 0, nil
	}
	return i - 1, nil
}

// Slice returns up to count candles ending at endExclusive-1. The start
// is clamped to 0 so a window near the beginning of the dataset simply
// shrinks.
func (s *Store) Slice(tf model.Timeframe, endExclusive, count int) ([]model.Candle, error) {
	series := s.series[tf]
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTimeframeUnavailable, tf)
	}
	if endExclusive > len(series) {
		endExclusive = len(series)
	}
	if endExclusive <= 0 || count <= 0 {
		return nil, nil
	}
	start := endExclusive - count
	if start < 0 {
		start = 0
	}
	out := make([]model.Candle, endExclusive-start)
	copy(out, series[start:endExclusive])
	return out, nil
}

// Range returns all candles with start <= time <= end (inclusive both ends).
func (s *Store) Range(tf model.Timeframe, start, end int64) ([]model.Candle, error) {
	series := s.series[tf]
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTimeframeUnavailable, tf)
	}
	lo := sort.Search(len(series), func(i int) bool { return series[i].Time >= start })
	hi := sort.Search(len(series), func(i int) bool { return series[i].Time > end })
	if lo >= hi {
		return nil, nil
	}
	out := make([]model.Candle, hi-lo)
	copy(out, series[lo:hi])
	return out, nil
}
