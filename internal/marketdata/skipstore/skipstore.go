// Package skipstore isolates user-generated skip candles from the
// historical baseline. The log is append-only; projections re-align
// events into a requested timeframe on demand and never feed duplicate
// timestamps downstream.
package skipstore

import (
	"sort"
	"sync"
	"time"

	"chart-replayv1/internal/model"
)

// Level classifies how contaminated a timeframe is by skip data.
type Level int

const (
	Clean Level = iota
	Light
	Moderate
	Heavy
)

func (l Level) String() string {
	switch l {
	case Clean:
		return "CLEAN"
	case Light:
		return "LIGHT"
	case Moderate:
		return "MODERATE"
	case Heavy:
		return "HEAVY"
	}
	return "UNKNOWN"
}

// LevelFor maps a per-timeframe skip count onto a contamination level.
func LevelFor(count int) Level {
	switch {
	case count == 0:
		return Clean
	case count <= 2:
		return Light
	case count <= 5:
		return Moderate
	default:
		return Heavy
	}
}

// Store is the append-only skip event log. Appends are mutex-guarded;
// reads take a snapshot so projections never observe a partial append.
type Store struct {
	mu     sync.Mutex
	events []model.SkipEvent
	nextID int64

	// OnAppend, when set, receives each appended event (used to mirror
	// events into the sqlite journal). Called outside the store mutex.
	OnAppend func(model.SkipEvent)
}

// New creates an empty store.
func New() *Store {
	return &Store{nextID: 1}
}

// Append records a skip candle generated in originTF and returns the
// stored event with its assigned monotonic id.
func (s *Store) Append(originTF model.Timeframe, candle model.Candle, synthetic bool) model.SkipEvent {
	s.mu.Lock()
	ev := model.SkipEvent{
		ID:        s.nextID,
		Time:      candle.Time,
		OriginTF:  originTF,
		Candle:    candle,
		Synthetic: synthetic,
		CreatedAt: time.Now().UTC().Unix(),
	}
	s.nextID++
	s.events = append(s.events, ev)
	hook := s.OnAppend
	s.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return ev
}

// snapshot returns a copy of the log in append order.
func (s *Store) snapshot() []model.SkipEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SkipEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Events returns all events in append order.
func (s *Store) Events() []model.SkipEvent {
	return s.snapshot()
}

// Count returns the total number of appended events.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Project returns the skip candles as seen from targetTF: every event
// is re-aligned to the target's minute boundary and the set is
// deduplicated by the aligned timestamp, the most recently appended
// event winning a conflict. Skips project in both directions. Viewed
// from a finer timeframe a coarse skip stays one candle at its aligned
// boundary (no sub-candles are fabricated); viewed from a coarser one,
// skips landing in the same bucket collapse into the latest of them.
// The result is sorted ascending and contains strictly unique
// timestamps.
func (s *Store) Project(targetTF model.Timeframe) []model.Candle {
	events := s.snapshot()

	byTime := make(map[int64]model.Candle)
	for _, ev := range events { // append order: later events overwrite
		c := ev.Candle
		c.Time = targetTF.Align(c.Time)
		byTime[c.Time] = c
	}
	if len(byTime) == 0 {
		return nil
	}

	out := make([]model.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// ContaminationLevel reports the skip contamination of a timeframe.
// Every event pollutes every timeframe it can project into, so the
// count is the full log length.
func (s *Store) ContaminationLevel(tf model.Timeframe) (Level, int) {
	count := s.Count()
	return LevelFor(count), count
}

// Clear wipes the log. Only process restart uses this; Go-To-Date never
// erases skips.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.nextID = 1
}
