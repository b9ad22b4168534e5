package session

import "testing"

func TestLifecycle_TrackSkip(t *testing.T) {
	l := NewLifecycle()
	if l.State() != StateClean || l.Version() != 1 {
		t.Fatalf("fresh lifecycle: %s v%d, want CLEAN v1", l.State(), l.Version())
	}
	if l.NeedsRecreation() {
		t.Error("clean lifecycle must not need recreation")
	}

	l.TrackSkip()
	if l.State() != StateSkipModified {
		t.Errorf("state after skip = %s, want SKIP_MODIFIED", l.State())
	}
	if l.SkipOps() != 1 {
		t.Errorf("skip ops = %d, want 1", l.SkipOps())
	}
	if !l.NeedsRecreation() {
		t.Error("a single skip must force recreation")
	}
}

func TestLifecycle_CompleteSuccess(t *testing.T) {
	l := NewLifecycle()
	l.TrackSkip()

	l.BeginTransition()
	if l.State() != StateTransitioning {
		t.Errorf("state = %s, want TRANSITIONING", l.State())
	}

	// Success without recreation: counter survives.
	l.Complete(true, false)
	if l.State() != StateDataLoaded {
		t.Errorf("state = %s, want DATA_LOADED", l.State())
	}
	if l.SkipOps() != 1 || !l.NeedsRecreation() {
		t.Error("non-recreating completion must preserve the skip counter")
	}

	// Success with recreation: counter resets, version bumps.
	l.BeginTransition()
	l.Complete(true, true)
	if l.SkipOps() != 0 || l.NeedsRecreation() {
		t.Error("recreation must reset skip contamination")
	}
	if l.Version() != 2 {
		t.Errorf("version = %d, want 2 after recreation", l.Version())
	}
}

func TestLifecycle_CompleteFailure(t *testing.T) {
	l := NewLifecycle()
	l.BeginTransition()
	l.Complete(false, false)

	if l.State() != StateCorrupted {
		t.Errorf("state = %s, want CORRUPTED", l.State())
	}
	if !l.NeedsRecreation() {
		t.Error("a corrupted series must force recreation")
	}
}

func TestLifecycle_SnapshotRestore(t *testing.T) {
	l := NewLifecycle()
	l.TrackSkip()
	l.TrackSkip()

	snap := l.BeginTransition()
	l.Complete(true, true) // would reset the counter

	l.Restore(snap)
	if l.State() != StateSkipModified {
		t.Errorf("restored state = %s, want SKIP_MODIFIED", l.State())
	}
	if l.SkipOps() != 2 {
		t.Errorf("restored skip ops = %d, want 2", l.SkipOps())
	}
	if l.Version() != 1 {
		t.Errorf("restored version = %d, want 1", l.Version())
	}
}

func TestSession_Snapshot(t *testing.T) {
	s := NewSession("5m", 1704067200)
	snap := s.Snapshot()

	if snap.Timeframe != "5m" || snap.PlayMode || snap.Speed != 1 {
		t.Errorf("fresh snapshot = %+v", snap)
	}
	if snap.SeriesState != StateClean || snap.Version != 1 {
		t.Errorf("fresh lifecycle snapshot = %s v%d", snap.SeriesState, snap.Version)
	}
	if snap.Cursor.Mode != ModeAnchor {
		t.Errorf("cursor mode = %s, want ANCHOR", snap.Cursor.Mode)
	}
}

func TestSession_CommitAtomicity(t *testing.T) {
	s := NewSession("5m", 1704067200)

	s.Commit(func(cur *Cursor, lc *Lifecycle) {
		cur.GoTo(1718409600)
		lc.BeginTransition()
		lc.Complete(true, false)
	})

	if got := s.LoadAnchor(); got != 1718409600 {
		t.Errorf("LoadAnchor = %d, want 1718409600", got)
	}
	snap := s.Snapshot()
	if snap.SeriesState != StateDataLoaded {
		t.Errorf("state = %s, want DATA_LOADED", snap.SeriesState)
	}
}
