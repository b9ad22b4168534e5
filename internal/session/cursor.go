package session

import "chart-replayv1/internal/model"

// CursorMode distinguishes a freshly anchored cursor from one that has
// drifted forward through skips.
type CursorMode string

const (
	ModeAnchor   CursorMode = "ANCHOR"
	ModeDrifting CursorMode = "DRIFTING"
)

// Cursor is the single authoritative "current time" of a session.
// It is mutated only by the transition coordinator inside an active
// transaction, so it carries no locking of its own.
type Cursor struct {
	mode       CursorMode
	anchorDate int64
	current    int64
}

// NewCursor creates a cursor anchored at the given date.
func NewCursor(anchor int64) *Cursor {
	return &Cursor{mode: ModeAnchor, anchorDate: anchor}
}

// Mode returns the cursor mode.
func (c *Cursor) Mode() CursorMode { return c.mode }

// GoTo re-anchors the cursor at d, clearing any accumulated drift.
func (c *Cursor) GoTo(d int64) {
	c.mode = ModeAnchor
	c.anchorDate = d
	c.current = 0
}

// Skip advances the cursor by one tf step and returns the new current
// time. The first skip flips the cursor from ANCHOR to DRIFTING and
// clears the anchor.
func (c *Cursor) Skip(tf model.Timeframe) int64 {
	step := tf.Seconds()
	if c.mode == ModeAnchor {
		c.current = c.anchorDate + step
		c.anchorDate = 0
		c.mode = ModeDrifting
		return c.current
	}
	c.current += step
	return c.current
}

// Clamp pins a drifting cursor back to t. Auto-play uses this when the
// dataset runs out so the cursor never points past the last candle.
func (c *Cursor) Clamp(t int64) {
	if c.mode == ModeDrifting && c.current > t {
		c.current = t
	}
}

// LoadAnchor returns the single value the data plane uses as the end of
// the visible window: the anchor date while anchored, the drifted
// current time after skips. Timeframe switches must honor accumulated
// skips, which is exactly what this accessor guarantees.
func (c *Cursor) LoadAnchor() int64 {
	if c.mode == ModeAnchor {
		return c.anchorDate
	}
	return c.current
}

// CursorState is the JSON-facing snapshot of a cursor.
type CursorState struct {
	Mode        CursorMode `json:"mode"`
	AnchorDate  *int64     `json:"anchor_date"`
	CurrentTime *int64     `json:"current_time"`
}

// State snapshots the cursor for the debug surface.
func (c *Cursor) State() CursorState {
	st := CursorState{Mode: c.mode}
	if c.mode == ModeAnchor {
		anchor := c.anchorDate
		st.AnchorDate = &anchor
	} else {
		cur := c.current
		st.CurrentTime = &cur
	}
	return st
}

// clone returns a copy for rollback snapshots.
func (c *Cursor) clone() Cursor { return *c }

// restore overwrites the cursor from a rollback snapshot.
func (c *Cursor) restore(snap Cursor) { *c = snap }
