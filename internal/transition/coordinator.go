package transition

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sort"
	"sync"
	"time"

	"chart-replayv1/internal/logger"
	"chart-replayv1/internal/marketdata/candlestore"
	"chart-replayv1/internal/marketdata/skipstore"
	"chart-replayv1/internal/marketdata/validate"
	"chart-replayv1/internal/model"
	"chart-replayv1/internal/session"
)

// Coordinator executes Go-To-Date, Timeframe-Switch, Skip and Auto-Play
// ticks against one session. A single transition mutex serializes all
// operations; no two transitions ever overlap.
type Coordinator struct {
	mu sync.Mutex

	store     *candlestore.Store
	skips     *skipstore.Store
	validator *validate.Validator
	sess      *session.Session
	bc        Broadcaster

	window        int
	timeoutNormal time.Duration
	timeoutGoTo   time.Duration

	player Player

	// observe, when set, receives (kind, outcome, duration) per closed
	// transaction. Wired to the metrics registry by main.
	observe func(kind Kind, outcome string, d time.Duration)
}

// Config carries the coordinator's tunables.
type Config struct {
	VisibleWindow  int
	TimeoutNormal  time.Duration
	TimeoutGoTo    time.Duration
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(store *candlestore.Store, skips *skipstore.Store, v *validate.Validator, sess *session.Session, bc Broadcaster, cfg Config) *Coordinator {
	if cfg.VisibleWindow <= 0 {
		cfg.VisibleWindow = 200
	}
	if cfg.TimeoutNormal <= 0 {
		cfg.TimeoutNormal = 8 * time.Second
	}
	if cfg.TimeoutGoTo <= 0 {
		cfg.TimeoutGoTo = 15 * time.Second
	}
	return &Coordinator{
		store:         store,
		skips:         skips,
		validator:     v,
		sess:          sess,
		bc:            bc,
		window:        cfg.VisibleWindow,
		timeoutNormal: cfg.TimeoutNormal,
		timeoutGoTo:   cfg.TimeoutGoTo,
	}
}

// SetPlayer attaches the auto-play loop so Go-To-Date can pause it.
func (co *Coordinator) SetPlayer(p Player) { co.player = p }

// SetObserver attaches a per-transaction metrics hook.
func (co *Coordinator) SetObserver(fn func(kind Kind, outcome string, d time.Duration)) {
	co.observe = fn
}

// Session exposes the coordinated session for read-only surfaces.
func (co *Coordinator) Session() *session.Session { return co.sess }

// Store exposes the candle store for read-only surfaces.
func (co *Coordinator) Store() *candlestore.Store { return co.store }

// Skips exposes the skip store for read-only surfaces.
func (co *Coordinator) Skips() *skipstore.Store { return co.skips }

// Window returns the configured visible window size.
func (co *Coordinator) Window() int { return co.window }

// InitialData builds the initial_chart_data payload for a newly
// connected client. It reads under the transition mutex but opens no
// transaction: nothing mutates.
func (co *Coordinator) InitialData() (StateUpdate, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	tf := co.sess.ActiveTF()
	candles, vr, err := co.loadWindow(tf, co.sess.LoadAnchor(), co.window)
	if err != nil {
		return StateUpdate{}, err
	}
	on := co.sess.PlayMode()
	return StateUpdate{
		Type:          "initial_chart_data",
		Candles:       candles,
		Timeframe:     tf,
		Contamination: co.contamination(tf),
		VisibleRange:  vr,
		PlayMode:      &on,
	}, nil
}

// GoToDate repositions the visible window so its right edge sits at the
// requested date. Auto-play, if running, is paused before any state
// changes.
func (co *Coordinator) GoToDate(date time.Time) (*Result, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	target := date.UTC().Truncate(24 * time.Hour).Unix()
	tf := co.sess.ActiveTF()
	tx := co.begin(KindGoTo, tf, tf, target)
	start := time.Now()

	// PRE: auto-play is paused before the lifecycle snapshot so the
	// loop cannot race the transaction.
	paused := false
	if co.player != nil {
		paused = co.player.Pause()
	}
	lcSnap, curSnap, version, needsRec := co.pre(&tx)

	ctx, cancel := context.WithTimeout(context.Background(), co.timeoutGoTo)
	defer cancel()
	ctx = logger.WithTransitionID(ctx, tx.ID)

	// DESTRUCT
	ackMissed := co.destruct(ctx, &tx, version)

	// LOAD
	tx.Phase = PhaseLoad
	candles, vr, err := co.loadWindow(tf, target, co.window)
	if err != nil {
		return nil, co.fail(&tx, lcSnap, curSnap, needsRec, start, err)
	}
	tx.ExpectedCount = len(candles)

	// COMMIT
	tx.Phase = PhaseCommit
	co.sess.Commit(func(cur *session.Cursor, lc *session.Lifecycle) {
		cur.GoTo(target)
		lc.Complete(true, needsRec)
	})
	co.sess.SetAfterGoTo(true)

	// BROADCAST
	tx.Phase = PhaseBroadcast
	update := StateUpdate{
		Type:            "go_to_date_complete",
		Candles:         candles,
		Timeframe:       tf,
		TransactionID:   tx.ID,
		NeedsRecreation: needsRec,
		Contamination:   co.contamination(tf),
		VisibleRange:    vr,
		ClearCache:      true,
		LoadAnchor:      target,
		TargetDate:      date.UTC().Format("2006-01-02"),
	}
	if paused {
		off := false
		update.PlayMode = &off
	}
	if err := co.bc.SendUpdate(update); err != nil {
		return nil, co.fail(&tx, lcSnap, curSnap, needsRec, start, err)
	}
	if ackMissed {
		co.bc.SendEmergencyRecovery(tx.ID, "recreation ack missed")
	}

	co.done(&tx, start)
	return &Result{Tx: tx, Candles: candles, Timeframe: tf}, nil
}

// SwitchTimeframe reloads the visible window on a new timeframe. The
// window's right edge is the cursor's load anchor, so accumulated skips
// keep their place in time.
func (co *Coordinator) SwitchTimeframe(tf model.Timeframe, visible int) (*Result, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownTimeframe, string(tf))
	}
	if !co.store.Available(tf) {
		return nil, fmt.Errorf("%w: %s", candlestore.ErrTimeframeUnavailable, tf)
	}
	if visible <= 0 {
		visible = co.window
	}
	if visible > 2000 {
		visible = 2000
	}

	from := co.sess.ActiveTF()
	anchor := co.sess.LoadAnchor()
	tx := co.begin(KindSwitchTF, from, tf, anchor)
	start := time.Now()

	// PRE
	lcSnap, curSnap, version, needsRec := co.pre(&tx)

	timeout := co.timeoutNormal
	if co.sess.AfterGoTo() {
		timeout = co.timeoutGoTo
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = logger.WithTransitionID(ctx, tx.ID)

	// DESTRUCT
	ackMissed := co.destruct(ctx, &tx, version)

	// LOAD
	tx.Phase = PhaseLoad
	candles, vr, err := co.loadWindow(tf, anchor, visible)
	if err != nil {
		return nil, co.fail(&tx, lcSnap, curSnap, needsRec, start, err)
	}
	tx.ExpectedCount = len(candles)

	// COMMIT: the cursor does not move on a switch.
	tx.Phase = PhaseCommit
	co.sess.Commit(func(cur *session.Cursor, lc *session.Lifecycle) {
		lc.Complete(true, needsRec)
	})
	co.sess.SetActiveTF(tf)

	// BROADCAST
	tx.Phase = PhaseBroadcast
	update := StateUpdate{
		Type:            "bulletproof_timeframe_changed",
		Candles:         candles,
		Timeframe:       tf,
		TransactionID:   tx.ID,
		NeedsRecreation: needsRec,
		Contamination:   co.contamination(tf),
		VisibleRange:    vr,
	}
	if needsRec {
		// Recreation invalidates the client's per-timeframe cache.
		update.ClearCache = true
		update.LoadAnchor = anchor
	}
	if err := co.bc.SendUpdate(update); err != nil {
		return nil, co.fail(&tx, lcSnap, curSnap, needsRec, start, err)
	}
	if ackMissed {
		co.bc.SendEmergencyRecovery(tx.ID, "recreation ack missed")
	}

	co.done(&tx, start)
	return &Result{Tx: tx, Candles: candles, Timeframe: tf}, nil
}

// Skip advances the cursor by one step of the active timeframe and
// appends the revealed (or synthesized) candle to the skip log.
func (co *Coordinator) Skip() (*Result, error) {
	return co.skip(KindSkip)
}

// AutoplayTick is a Skip driven by the auto-play loop. When the dataset
// is exhausted it returns ErrEndOfData without mutating any state, and
// the loop is expected to stop.
func (co *Coordinator) AutoplayTick() (*Result, error) {
	return co.skip(KindAutoplayTick)
}

func (co *Coordinator) skip(kind Kind) (*Result, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	tf := co.sess.ActiveTF()
	if !co.store.Available(tf) {
		return nil, fmt.Errorf("%w: %s", candlestore.ErrTimeframeUnavailable, tf)
	}

	// Probe the post-skip time on a cursor copy; the real cursor only
	// moves in COMMIT.
	probe := co.sess.CursorSnapshot()
	newTime := probe.Skip(tf)

	if kind == KindAutoplayTick {
		if bound := co.playbackBound(tf); newTime > bound {
			// A drifting cursor can sit past the bound after synthetic
			// skips on a finer timeframe; pull it back onto playable data.
			co.sess.Commit(func(cur *session.Cursor, lc *session.Lifecycle) {
				cur.Clamp(bound)
			})
			return nil, ErrEndOfData
		}
	}

	tx := co.begin(kind, tf, tf, newTime)
	start := time.Now()

	// PRE. A skip appends to the client's series in place; it never
	// destroys it, so the plan pins needs_recreation to false and the
	// DESTRUCT phase is a no-op. Contamination still accrues for the
	// next structural transition.
	lcSnap, curSnap, _, _ := co.pre(&tx)
	tx.NeedsRecreation = false
	tx.Reason = ""

	// LOAD
	tx.Phase = PhaseLoad
	candle, synthetic, err := co.nextCandle(tf, newTime)
	if err != nil {
		return nil, co.fail(&tx, lcSnap, curSnap, false, start, err)
	}
	out := co.validator.Sanitize([]model.Candle{candle})
	candle = out[0]
	tx.ExpectedCount = 1

	// COMMIT
	tx.Phase = PhaseCommit
	ev := co.skips.Append(tf, candle, synthetic)
	co.sess.Commit(func(cur *session.Cursor, lc *session.Lifecycle) {
		cur.Skip(tf)
		lc.TrackSkip()
		lc.Complete(true, false)
	})
	co.sess.SetAfterGoTo(false)

	// BROADCAST
	tx.Phase = PhaseBroadcast
	update := StateUpdate{
		Type:          "skip_complete",
		Candles:       []model.Candle{candle},
		Timeframe:     tf,
		TransactionID: tx.ID,
		Contamination: co.contamination(tf),
		Synthetic:     synthetic,
	}
	if err := co.bc.SendUpdate(update); err != nil {
		return nil, co.fail(&tx, lcSnap, curSnap, false, start, err)
	}

	co.done(&tx, start)
	return &Result{Tx: tx, Candles: []model.Candle{candle}, Timeframe: tf, SkipEvent: &ev}, nil
}

// begin opens a transaction record.
func (co *Coordinator) begin(kind Kind, from, to model.Timeframe, requested int64) Transaction {
	return Transaction{
		ID:            logger.GenerateTransitionID(string(kind), time.Now()),
		Kind:          kind,
		FromTF:        from,
		ToTF:          to,
		RequestedTime: requested,
		Phase:         PhasePre,
	}
}

// pre snapshots session state and computes the transition plan.
func (co *Coordinator) pre(tx *Transaction) (session.LifecycleSnapshot, session.Cursor, int, bool) {
	curSnap := co.sess.CursorSnapshot()
	var (
		lcSnap   session.LifecycleSnapshot
		version  int
		needsRec bool
	)
	co.sess.Commit(func(cur *session.Cursor, lc *session.Lifecycle) {
		needsRec = lc.NeedsRecreation()
		version = lc.Version()
		lcSnap = lc.BeginTransition()
	})
	tx.NeedsRecreation = needsRec
	if needsRec {
		tx.Reason = "skip contamination"
	}
	return lcSnap, curSnap, version, needsRec
}

// destruct runs the DESTRUCT phase. A missed ack is a warning, not a
// failure: the coordinator continues optimistically and the caller
// schedules emergency recovery after the broadcast.
func (co *Coordinator) destruct(ctx context.Context, tx *Transaction, version int) bool {
	if !tx.NeedsRecreation {
		return false
	}
	tx.Phase = PhaseDestruct
	if err := co.bc.SendRecreation(ctx, version, tx.ID); err != nil {
		args := append(logger.LogWithTransition(ctx), slog.String("error", err.Error()))
		slog.Warn("recreation ack missed, continuing", args...)
		return true
	}
	return false
}

// loadWindow builds the merged, validated candle window whose right
// edge is the greatest candle time <= endTime.
func (co *Coordinator) loadWindow(tf model.Timeframe, endTime int64, count int) ([]model.Candle, *VisibleRange, error) {
	endIdx, err := co.store.FindIndex(tf, endTime)
	if err != nil {
		return nil, nil, err
	}
	hist, err := co.store.Slice(tf, endIdx+1, count)
	if err != nil {
		return nil, nil, err
	}

	merged := mergeSkips(hist, co.skips.Project(tf), endTime, count)
	out := co.validator.Sanitize(merged)

	vr := &VisibleRange{From: out[0].Time, To: out[len(out)-1].Time}
	return out, vr, nil
}

// mergeSkips overlays projected skip candles onto the historical
// window. Skip candles override historical candles at identical
// timestamps; skips beyond the historical right edge extend the window
// up to endTime. The result is sorted, unique by time, and trimmed from
// the front to count.
func mergeSkips(hist, skips []model.Candle, endTime int64, count int) []model.Candle {
	if len(skips) == 0 {
		return hist
	}
	byTime := make(map[int64]model.Candle, len(hist)+len(skips))
	for _, c := range hist {
		byTime[c.Time] = c
	}
	windowStart := int64(0)
	if len(hist) > 0 {
		windowStart = hist[0].Time
	}
	for _, c := range skips {
		if c.Time > endTime || c.Time < windowStart {
			continue
		}
		byTime[c.Time] = c
	}

	merged := make([]model.Candle, 0, len(byTime))
	for _, c := range byTime {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })
	if len(merged) > count {
		merged = merged[len(merged)-count:]
	}
	return merged
}

// nextCandle resolves the candle a skip reveals at t: the historical
// candle when one opens exactly there, otherwise a flat synthetic
// continuation from the last known close.
func (co *Coordinator) nextCandle(tf model.Timeframe, t int64) (model.Candle, bool, error) {
	aligned := tf.Align(t)
	idx, err := co.store.FindIndex(tf, aligned)
	if err != nil {
		return model.Candle{}, false, err
	}
	c, err := co.store.At(tf, idx)
	if err != nil {
		return model.Candle{}, false, err
	}
	if c.Time == aligned {
		return c, false, nil
	}

	// Market closure or past the dataset end: continue flat from the
	// most recent close, preferring a later skip candle over history.
	base := c.Close
	baseTime := c.Time
	for _, s := range co.skips.Project(tf) {
		if s.Time < aligned && s.Time > baseTime {
			base = s.Close
			baseTime = s.Time
		}
	}
	return model.Candle{
		Time:   aligned,
		Open:   base,
		High:   base,
		Low:    base,
		Close:  base,
		Volume: 0,
	}, true, nil
}

// playbackBound is the last time auto-play may advance to: the last
// historical candle, or the furthest skip candle if manual skips
// already drifted past the dataset end.
func (co *Coordinator) playbackBound(tf model.Timeframe) int64 {
	bound := int64(0)
	if last, err := co.store.Last(tf); err == nil {
		bound = last.Time
	}
	for _, s := range co.skips.Project(tf) {
		if s.Time > bound {
			bound = s.Time
		}
	}
	return bound
}

// contamination snapshots the skip pollution of a timeframe for the
// broadcast payload.
func (co *Coordinator) contamination(tf model.Timeframe) *Contamination {
	level, count := co.skips.ContaminationLevel(tf)
	return &Contamination{Level: level.String(), SkipCount: count}
}

// fail rolls a transaction back: the cursor returns to its PRE value,
// the lifecycle restores its snapshot and lands on CORRUPTED so the
// next transition forces recreation. If destruction already happened
// the client is told to run emergency recovery.
func (co *Coordinator) fail(tx *Transaction, lcSnap session.LifecycleSnapshot, curSnap session.Cursor, destructed bool, start time.Time, err error) error {
	tx.Phase = PhaseRolledBack
	co.sess.RestoreCursor(curSnap)
	co.sess.Commit(func(cur *session.Cursor, lc *session.Lifecycle) {
		lc.Restore(lcSnap)
		lc.Complete(false, false)
	})
	if destructed {
		co.bc.SendEmergencyRecovery(tx.ID, err.Error())
	}
	log.Printf("[transition] %s rolled back: %v", tx.ID, err)
	if co.observe != nil {
		co.observe(tx.Kind, "rolled_back", time.Since(start))
	}
	return err
}

// done closes a successful transaction.
func (co *Coordinator) done(tx *Transaction, start time.Time) {
	tx.Phase = PhaseDone
	if co.observe != nil {
		co.observe(tx.Kind, "done", time.Since(start))
	}
}
