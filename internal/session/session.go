// Package session owns the per-client replay state: the time cursor,
// the chart lifecycle machine and the playback settings. There is one
// Session per connected client; in the documented deployment that is a
// single session owned by the server.
package session

import (
	"sync"

	"chart-replayv1/internal/model"
)

// Session aggregates the mutable per-client state. All mutation goes
// through Commit so the cursor, lifecycle and playback fields change
// atomically with respect to readers; the transition coordinator
// additionally serializes writers with its transition mutex.
type Session struct {
	mu sync.RWMutex

	cursor    *Cursor
	lifecycle *Lifecycle

	activeTF model.Timeframe
	playMode bool
	speed    float64

	// afterGoTo marks that the last completed operation was a
	// Go-To-Date; the immediately following timeframe switches get the
	// longer transition deadline.
	afterGoTo bool
}

// NewSession creates a session anchored at the given time on the given
// timeframe, with auto-play off at 1x speed.
func NewSession(tf model.Timeframe, anchor int64) *Session {
	return &Session{
		cursor:    NewCursor(anchor),
		lifecycle: NewLifecycle(),
		activeTF:  tf,
		speed:     1,
	}
}

// ResetCursor re-anchors the session for a newly connected client.
// Lifecycle state survives: the client's chart may still need a forced
// recreation if skips contaminated the series earlier.
func (s *Session) ResetCursor(anchor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = NewCursor(anchor)
}

// Commit runs fn while holding the write lock. The coordinator uses it
// for the COMMIT phase so cursor, lifecycle and timeframe move in one
// atomic step.
func (s *Session) Commit(fn func(cur *Cursor, lc *Lifecycle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.cursor, s.lifecycle)
}

// View runs fn under the read lock.
func (s *Session) View(fn func(cur *Cursor, lc *Lifecycle)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.cursor, s.lifecycle)
}

// CursorSnapshot returns a copy of the cursor for rollback bookkeeping.
func (s *Session) CursorSnapshot() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor.clone()
}

// RestoreCursor rolls the cursor back to a snapshot.
func (s *Session) RestoreCursor(snap Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor.restore(snap)
}

// LoadAnchor returns the cursor's current load anchor.
func (s *Session) LoadAnchor() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor.LoadAnchor()
}

// ActiveTF returns the session's active timeframe.
func (s *Session) ActiveTF() model.Timeframe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTF
}

// SetActiveTF records the active timeframe.
func (s *Session) SetActiveTF(tf model.Timeframe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTF = tf
}

// PlayMode reports whether auto-play is running.
func (s *Session) PlayMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playMode
}

// SetPlayMode flips auto-play and returns the new value.
func (s *Session) SetPlayMode(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playMode = on
	return s.playMode
}

// Speed returns the auto-play speed multiplier.
func (s *Session) Speed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speed
}

// SetSpeed stores the auto-play speed multiplier.
func (s *Session) SetSpeed(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = v
}

// AfterGoTo reports whether the previous completed operation was a
// Go-To-Date.
func (s *Session) AfterGoTo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.afterGoTo
}

// SetAfterGoTo records whether the just-completed operation was a
// Go-To-Date.
func (s *Session) SetAfterGoTo(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterGoTo = v
}

// State is the JSON-facing session snapshot for the debug surface.
type State struct {
	Timeframe   model.Timeframe `json:"timeframe"`
	Cursor      CursorState     `json:"cursor"`
	PlayMode    bool            `json:"play_mode"`
	Speed       float64         `json:"speed"`
	SeriesState SeriesState     `json:"series_state"`
	SkipOps     int             `json:"skip_ops_since_clean"`
	Version     int             `json:"version"`
}

// Snapshot captures the whole session under one read lock.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Timeframe:   s.activeTF,
		Cursor:      s.cursor.State(),
		PlayMode:    s.playMode,
		Speed:       s.speed,
		SeriesState: s.lifecycle.State(),
		SkipOps:     s.lifecycle.SkipOps(),
		Version:     s.lifecycle.Version(),
	}
}
