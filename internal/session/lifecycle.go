package session

// SeriesState tracks how far the client's chart series has diverged
// from the clean historical baseline.
type SeriesState string

const (
	StateClean         SeriesState = "CLEAN"
	StateDataLoaded    SeriesState = "DATA_LOADED"
	StateSkipModified  SeriesState = "SKIP_MODIFIED"
	StateCorrupted     SeriesState = "CORRUPTED"
	StateTransitioning SeriesState = "TRANSITIONING"
)

// Lifecycle is the per-session chart lifecycle state machine. Like the
// cursor it is mutated only under the coordinator's transition mutex.
type Lifecycle struct {
	state             SeriesState
	skipOpsSinceClean int
	version           int
}

// NewLifecycle starts the state machine at CLEAN, version 1.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateClean, version: 1}
}

// State returns the current series state.
func (l *Lifecycle) State() SeriesState { return l.state }

// SkipOps returns the skip operation count since the last clean reset.
func (l *Lifecycle) SkipOps() int { return l.skipOpsSinceClean }

// Version returns the chart series version; it bumps on each forced
// recreation so the client can discard stale series handles.
func (l *Lifecycle) Version() int { return l.version }

// TrackSkip records a skip operation, contaminating a clean or loaded
// series.
func (l *Lifecycle) TrackSkip() {
	l.skipOpsSinceClean++
	if l.state == StateClean || l.state == StateDataLoaded {
		l.state = StateSkipModified
	}
}

// NeedsRecreation reports whether the next transition must destroy and
// re-create the client's chart series.
func (l *Lifecycle) NeedsRecreation() bool {
	return l.skipOpsSinceClean > 0 ||
		l.state == StateSkipModified ||
		l.state == StateCorrupted
}

// LifecycleSnapshot captures the machine for transaction rollback.
type LifecycleSnapshot struct {
	state             SeriesState
	skipOpsSinceClean int
	version           int
}

// BeginTransition snapshots the current state and moves to
// TRANSITIONING.
func (l *Lifecycle) BeginTransition() LifecycleSnapshot {
	snap := LifecycleSnapshot{l.state, l.skipOpsSinceClean, l.version}
	l.state = StateTransitioning
	return snap
}

// Complete closes a transition. Success lands on DATA_LOADED; if the
// transition recreated the series the skip counter resets and the
// version bumps. Failure lands on CORRUPTED, forcing recreation on the
// next transition.
func (l *Lifecycle) Complete(success, recreated bool) {
	if !success {
		l.state = StateCorrupted
		return
	}
	l.state = StateDataLoaded
	if recreated {
		l.skipOpsSinceClean = 0
		l.version++
	}
}

// Restore rolls the machine back to a snapshot taken at PRE.
func (l *Lifecycle) Restore(snap LifecycleSnapshot) {
	l.state = snap.state
	l.skipOpsSinceClean = snap.skipOpsSinceClean
	l.version = snap.version
}
