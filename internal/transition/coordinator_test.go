package transition

import (
	"context"
	"errors"
	"testing"
	"time"

	"chart-replayv1/internal/marketdata/agg"
	"chart-replayv1/internal/marketdata/candlestore"
	"chart-replayv1/internal/marketdata/skipstore"
	"chart-replayv1/internal/marketdata/validate"
	"chart-replayv1/internal/model"
	"chart-replayv1/internal/session"
)

// recorderBroadcaster captures the protocol traffic of a transition.
type recorderBroadcaster struct {
	updates   []StateUpdate
	sequence  []string
	ackErr    error
	updateErr error
}

func (r *recorderBroadcaster) SendRecreation(ctx context.Context, version int, txID string) error {
	r.sequence = append(r.sequence, "recreation")
	return r.ackErr
}

func (r *recorderBroadcaster) SendUpdate(u StateUpdate) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.sequence = append(r.sequence, "update:"+u.Type)
	r.updates = append(r.updates, u)
	return nil
}

func (r *recorderBroadcaster) SendEmergencyRecovery(txID, reason string) {
	r.sequence = append(r.sequence, "emergency")
}

func (r *recorderBroadcaster) last(t *testing.T) StateUpdate {
	t.Helper()
	if len(r.updates) == 0 {
		t.Fatal("no update broadcast")
	}
	return r.updates[len(r.updates)-1]
}

// gen5m builds a continuous 5m series for all of 2024.
func gen5m() []model.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2024, 12, 31, 23, 55, 0, 0, time.UTC).Unix()
	n := int((end-start)/300) + 1
	out := make([]model.Candle, n)
	for i := 0; i < n; i++ {
		base := 50000.0 + float64(i%500)
		out[i] = model.Candle{
			Time:   start + int64(i)*300,
			Open:   base,
			High:   base + 50,
			Low:    base - 50,
			Close:  base + 10,
			Volume: 10,
		}
	}
	return out
}

func newFixture(t *testing.T) (*Coordinator, *recorderBroadcaster, *session.Session, *skipstore.Store) {
	t.Helper()
	store := candlestore.New()
	fiveM := gen5m()
	store.Put(model.TF5m, fiveM)

	a := agg.New()
	for _, tf := range []model.Timeframe{model.TF15m, model.TF1h} {
		rolled, err := a.Rollup(fiveM, model.TF5m, tf)
		if err != nil {
			t.Fatal(err)
		}
		store.Put(tf, rolled)
	}

	last, err := store.Last(model.TF5m)
	if err != nil {
		t.Fatal(err)
	}
	sess := session.NewSession(model.TF5m, last.Time)
	skips := skipstore.New()
	bc := &recorderBroadcaster{}
	co := NewCoordinator(store, skips, validate.New(), sess, bc, Config{VisibleWindow: 200})
	return co, bc, sess, skips
}

func june15() time.Time {
	return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
}

func TestGoToDate_PositionsWindow(t *testing.T) {
	co, bc, sess, _ := newFixture(t)

	res, err := co.GoToDate(june15())
	if err != nil {
		t.Fatal(err)
	}
	if res.Tx.Phase != PhaseDone || res.Tx.Kind != KindGoTo {
		t.Errorf("transaction closed as %s/%s", res.Tx.Kind, res.Tx.Phase)
	}
	if len(res.Candles) != 200 {
		t.Errorf("window length = %d, want 200", len(res.Candles))
	}

	target := june15().Unix()
	lastC := res.Candles[len(res.Candles)-1]
	if lastC.Time != target {
		t.Errorf("right edge = %d, want %d (midnight June 15)", lastC.Time, target)
	}

	u := bc.last(t)
	if u.Type != "go_to_date_complete" {
		t.Errorf("update type = %s", u.Type)
	}
	if !u.ClearCache {
		t.Error("go-to-date must set clear_cache")
	}
	if u.LoadAnchor != target {
		t.Errorf("load_anchor = %d, want %d", u.LoadAnchor, target)
	}
	if u.TargetDate != "2024-06-15" {
		t.Errorf("target_date = %s", u.TargetDate)
	}
	if sess.LoadAnchor() != target {
		t.Errorf("session anchor = %d, want %d", sess.LoadAnchor(), target)
	}
	if !sess.AfterGoTo() {
		t.Error("afterGoTo flag must be set")
	}
}

func TestGoToDate_ClampsToDatasetEdges(t *testing.T) {
	co, _, _, _ := newFixture(t)

	// Before the first candle: the first candle becomes the window.
	res, err := co.GoToDate(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	firstTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	if len(res.Candles) != 1 || res.Candles[0].Time != firstTime {
		t.Errorf("pre-dataset goto: %d candles ending at %d, want 1 at %d",
			len(res.Candles), res.Candles[len(res.Candles)-1].Time, firstTime)
	}

	// Past the last candle: the window clamps at the dataset end.
	res, err = co.GoToDate(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	lastTime := time.Date(2024, 12, 31, 23, 55, 0, 0, time.UTC).Unix()
	if got := res.Candles[len(res.Candles)-1].Time; got != lastTime {
		t.Errorf("post-dataset goto right edge = %d, want %d", got, lastTime)
	}
}

func TestSwitchTimeframe_KeepsAnchor(t *testing.T) {
	co, bc, sess, _ := newFixture(t)
	if _, err := co.GoToDate(june15()); err != nil {
		t.Fatal(err)
	}

	res, err := co.SwitchTimeframe(model.TF1h, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Timeframe != model.TF1h || sess.ActiveTF() != model.TF1h {
		t.Errorf("active timeframe = %s", sess.ActiveTF())
	}

	// The window's right edge stays at the go-to anchor.
	target := june15().Unix()
	if got := res.Candles[len(res.Candles)-1].Time; got != target {
		t.Errorf("1h right edge = %d, want %d", got, target)
	}

	u := bc.last(t)
	if u.Type != "bulletproof_timeframe_changed" {
		t.Errorf("update type = %s", u.Type)
	}
	// A clean switch performs no recreation and no cache invalidation.
	if u.NeedsRecreation || u.ClearCache {
		t.Errorf("clean switch: needs_recreation=%v clear_cache=%v, want false/false", u.NeedsRecreation, u.ClearCache)
	}
	for _, step := range bc.sequence {
		if step == "recreation" {
			t.Error("clean transitions must not send recreation commands")
		}
	}
}

func TestSwitchTimeframe_Unavailable(t *testing.T) {
	co, bc, sess, _ := newFixture(t)

	_, err := co.SwitchTimeframe(model.TF4h, 0)
	if !errors.Is(err, candlestore.ErrTimeframeUnavailable) {
		t.Fatalf("err = %v, want ErrTimeframeUnavailable", err)
	}
	if len(bc.updates) != 0 {
		t.Error("failed validation must not broadcast")
	}
	if sess.Snapshot().SeriesState != session.StateClean {
		t.Error("failed validation must not touch the lifecycle")
	}
}

func TestSkip_RevealsHistoricalCandle(t *testing.T) {
	co, bc, sess, skips := newFixture(t)
	if _, err := co.GoToDate(june15()); err != nil {
		t.Fatal(err)
	}

	res, err := co.Skip()
	if err != nil {
		t.Fatal(err)
	}
	want := june15().Unix() + 300
	if len(res.Candles) != 1 || res.Candles[0].Time != want {
		t.Fatalf("skip candle = %+v, want one at %d", res.Candles, want)
	}
	if res.SkipEvent == nil || res.SkipEvent.Synthetic {
		t.Error("skip over existing history must reveal the historical candle")
	}
	if sess.LoadAnchor() != want {
		t.Errorf("cursor = %d, want %d", sess.LoadAnchor(), want)
	}
	if sess.AfterGoTo() {
		t.Error("skip must clear the afterGoTo flag")
	}
	if skips.Count() != 1 {
		t.Errorf("skip log count = %d, want 1", skips.Count())
	}

	u := bc.last(t)
	if u.Type != "skip_complete" || u.Synthetic {
		t.Errorf("update = %s synthetic=%v", u.Type, u.Synthetic)
	}
	if u.Contamination == nil || u.Contamination.SkipCount != 1 || u.Contamination.Level != "LIGHT" {
		t.Errorf("contamination = %+v", u.Contamination)
	}
}

func TestSkip_SyntheticPastDatasetEnd(t *testing.T) {
	co, bc, _, _ := newFixture(t)

	// The session starts anchored at the dataset's last candle; a manual
	// skip walks past the end.
	res, err := co.Skip()
	if err != nil {
		t.Fatal(err)
	}
	if res.SkipEvent == nil || !res.SkipEvent.Synthetic {
		t.Fatal("skip past the dataset end must synthesize a candle")
	}
	c := res.Candles[0]
	if c.Open != c.Close || c.High != c.Low || c.Open != c.High {
		t.Errorf("synthetic candle must be flat, got %+v", c)
	}
	if c.Volume != 0 {
		t.Errorf("synthetic volume = %v, want 0", c.Volume)
	}
	if !bc.last(t).Synthetic {
		t.Error("broadcast must flag the synthetic candle")
	}

	// A second skip continues flat from the first synthetic close.
	res2, err := co.Skip()
	if err != nil {
		t.Fatal(err)
	}
	if res2.Candles[0].Close != c.Close {
		t.Errorf("continuation close = %v, want %v", res2.Candles[0].Close, c.Close)
	}
	if res2.Candles[0].Time != c.Time+300 {
		t.Errorf("continuation time = %d, want %d", res2.Candles[0].Time, c.Time+300)
	}
}

func TestSkip_VisibleAfterSwitchToFinerTimeframe(t *testing.T) {
	co, _, sess, _ := newFixture(t)
	if _, err := co.GoToDate(june15()); err != nil {
		t.Fatal(err)
	}
	if _, err := co.SwitchTimeframe(model.TF15m, 0); err != nil {
		t.Fatal(err)
	}

	// Skip one 15m candle, then drop to 5m: the skip projects into the
	// finer window and the position is preserved.
	res, err := co.Skip()
	if err != nil {
		t.Fatal(err)
	}
	skipClose := res.Candles[0].Close
	cursor := sess.LoadAnchor()

	res, err = co.SwitchTimeframe(model.TF5m, 0)
	if err != nil {
		t.Fatal(err)
	}
	lastC := res.Candles[len(res.Candles)-1]
	if lastC.Time != cursor {
		t.Errorf("5m right edge = %d, want the skipped position %d", lastC.Time, cursor)
	}
	// The projected 15m skip overrides the historical 5m candle there.
	if lastC.Close != skipClose {
		t.Errorf("right edge close = %v, want the skip candle's %v", lastC.Close, skipClose)
	}
}

func TestSkip_DedupOnCoarserSwitch(t *testing.T) {
	co, bc, _, _ := newFixture(t)
	dec17 := time.Date(2024, 12, 17, 0, 0, 0, 0, time.UTC)
	if _, err := co.GoToDate(dec17); err != nil {
		t.Fatal(err)
	}

	// Three 5m skips land at 00:05, 00:10 and 00:15.
	var closes []float64
	for i := 0; i < 3; i++ {
		res, err := co.Skip()
		if err != nil {
			t.Fatal(err)
		}
		closes = append(closes, res.Candles[0].Close)
	}

	res, err := co.SwitchTimeframe(model.TF15m, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Timestamps stay strictly unique after the overlay.
	for i := 1; i < len(res.Candles); i++ {
		if res.Candles[i].Time <= res.Candles[i-1].Time {
			t.Fatalf("duplicate or unordered timestamp at index %d", i)
		}
	}

	// The 00:05 and 00:10 skips collapse into the 00:00 bucket, the
	// most recent winning; the 00:15 skip keeps its own bucket.
	last := res.Candles[len(res.Candles)-1]
	if last.Time != dec17.Unix()+900 {
		t.Fatalf("right edge = %d, want 00:15", last.Time)
	}
	if last.Close != closes[2] {
		t.Errorf("00:15 close = %v, want the third skip's %v", last.Close, closes[2])
	}
	bucket := res.Candles[len(res.Candles)-2]
	if bucket.Time != dec17.Unix() {
		t.Fatalf("second-to-last = %d, want the 00:00 bucket", bucket.Time)
	}
	if bucket.Close != closes[1] {
		t.Errorf("00:00 bucket close = %v, want the second skip's %v", bucket.Close, closes[1])
	}

	u := bc.last(t)
	if u.Contamination == nil || u.Contamination.SkipCount != 3 || u.Contamination.Level != "MODERATE" {
		t.Errorf("15m contamination = %+v, want 3 skips MODERATE", u.Contamination)
	}
}

func TestSwitchAfterSkip_ForcesRecreation(t *testing.T) {
	co, bc, sess, _ := newFixture(t)
	if _, err := co.GoToDate(june15()); err != nil {
		t.Fatal(err)
	}
	if _, err := co.Skip(); err != nil {
		t.Fatal(err)
	}
	versionBefore := sess.Snapshot().Version

	res, err := co.SwitchTimeframe(model.TF15m, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Tx.NeedsRecreation {
		t.Error("switch after a skip must recreate the series")
	}

	// The recreation command precedes the data broadcast.
	var recreationAt, updateAt int
	for i, step := range bc.sequence {
		switch step {
		case "recreation":
			recreationAt = i
		case "update:bulletproof_timeframe_changed":
			updateAt = i
		}
	}
	if recreationAt == 0 && bc.sequence[0] != "recreation" {
		t.Fatalf("no recreation in sequence %v", bc.sequence)
	}
	if recreationAt > updateAt {
		t.Errorf("recreation must precede the data update: %v", bc.sequence)
	}

	u := bc.last(t)
	if !u.NeedsRecreation || !u.ClearCache || u.LoadAnchor == 0 {
		t.Errorf("recreating switch update = %+v", u)
	}

	snap := sess.Snapshot()
	if snap.Version != versionBefore+1 {
		t.Errorf("version = %d, want %d after recreation", snap.Version, versionBefore+1)
	}
	if snap.SkipOps != 0 {
		t.Errorf("skip ops = %d, want 0 after recreation", snap.SkipOps)
	}

	// The next switch is clean again.
	res, err = co.SwitchTimeframe(model.TF5m, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tx.NeedsRecreation {
		t.Error("recreation must not repeat once contamination is cleared")
	}
}

func TestRollback_BroadcastFailure(t *testing.T) {
	co, bc, sess, _ := newFixture(t)
	if _, err := co.GoToDate(june15()); err != nil {
		t.Fatal(err)
	}
	anchorBefore := sess.LoadAnchor()

	bc.updateErr = errors.New("socket gone")
	if _, err := co.Skip(); err == nil {
		t.Fatal("expected the broadcast failure to surface")
	}

	if got := sess.LoadAnchor(); got != anchorBefore {
		t.Errorf("cursor = %d, want rollback to %d", got, anchorBefore)
	}
	snap := sess.Snapshot()
	if snap.SeriesState != session.StateCorrupted {
		t.Errorf("state = %s, want CORRUPTED", snap.SeriesState)
	}

	// The next transition recovers by forced recreation.
	bc.updateErr = nil
	res, err := co.SwitchTimeframe(model.TF15m, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Tx.NeedsRecreation {
		t.Error("a corrupted series must force recreation on the next transition")
	}
}

type fakePlayer struct{ paused bool }

func (f *fakePlayer) Pause() bool {
	f.paused = true
	return true
}

func TestGoToDate_PausesAutoplay(t *testing.T) {
	co, bc, _, _ := newFixture(t)
	player := &fakePlayer{}
	co.SetPlayer(player)

	if _, err := co.GoToDate(june15()); err != nil {
		t.Fatal(err)
	}
	if !player.paused {
		t.Error("go-to-date must pause auto-play before mutating state")
	}
	u := bc.last(t)
	if u.PlayMode == nil || *u.PlayMode {
		t.Error("update must report play mode off")
	}
}

func TestAutoplayTick_EndOfData(t *testing.T) {
	co, bc, sess, _ := newFixture(t)
	anchorBefore := sess.LoadAnchor()

	_, err := co.AutoplayTick()
	if !errors.Is(err, ErrEndOfData) {
		t.Fatalf("err = %v, want ErrEndOfData", err)
	}
	if len(bc.updates) != 0 {
		t.Error("an exhausted tick must not broadcast")
	}
	if sess.LoadAnchor() != anchorBefore {
		t.Error("an exhausted tick must not move the cursor")
	}
}

func TestAutoplayTick_ClampsDriftedCursor(t *testing.T) {
	co, _, sess, _ := newFixture(t)

	// Two manual skips past the dataset end leave a drifting cursor
	// beyond the last 5m candle.
	if _, err := co.Skip(); err != nil {
		t.Fatal(err)
	}
	if _, err := co.Skip(); err != nil {
		t.Fatal(err)
	}

	// Both synthetic skips collapse into one 1h bucket at midnight; on
	// 1h the cursor sits past that last playable candle.
	if _, err := co.SwitchTimeframe(model.TF1h, 0); err != nil {
		t.Fatal(err)
	}
	bound := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

	_, err := co.AutoplayTick()
	if !errors.Is(err, ErrEndOfData) {
		t.Fatalf("err = %v, want ErrEndOfData", err)
	}
	if got := sess.LoadAnchor(); got != bound {
		t.Errorf("cursor = %d, want clamped to the last playable candle %d", got, bound)
	}
}

func TestAutoplayTick_AdvancesLikeSkip(t *testing.T) {
	co, _, sess, _ := newFixture(t)
	if _, err := co.GoToDate(june15()); err != nil {
		t.Fatal(err)
	}

	res, err := co.AutoplayTick()
	if err != nil {
		t.Fatal(err)
	}
	if res.Tx.Kind != KindAutoplayTick {
		t.Errorf("kind = %s, want AUTOPLAY_TICK", res.Tx.Kind)
	}
	if sess.LoadAnchor() != june15().Unix()+300 {
		t.Errorf("cursor = %d, want one 5m step forward", sess.LoadAnchor())
	}
}

func TestInitialData(t *testing.T) {
	co, _, _, _ := newFixture(t)

	u, err := co.InitialData()
	if err != nil {
		t.Fatal(err)
	}
	if u.Type != "initial_chart_data" {
		t.Errorf("type = %s", u.Type)
	}
	if len(u.Candles) != 200 {
		t.Errorf("window = %d candles, want 200", len(u.Candles))
	}
	if u.PlayMode == nil || *u.PlayMode {
		t.Error("initial payload must report play mode off")
	}
	if u.VisibleRange == nil || u.VisibleRange.To != u.Candles[len(u.Candles)-1].Time {
		t.Error("visible range must match the window")
	}
}

func TestTransitions_ObserverSeesOutcomes(t *testing.T) {
	co, bc, _, _ := newFixture(t)

	type obs struct {
		kind    Kind
		outcome string
	}
	var seen []obs
	co.SetObserver(func(kind Kind, outcome string, d time.Duration) {
		seen = append(seen, obs{kind, outcome})
	})

	if _, err := co.GoToDate(june15()); err != nil {
		t.Fatal(err)
	}
	bc.updateErr = errors.New("down")
	co.Skip()

	if len(seen) != 2 {
		t.Fatalf("observer saw %d transitions, want 2", len(seen))
	}
	if seen[0].kind != KindGoTo || seen[0].outcome != "done" {
		t.Errorf("first observation = %+v", seen[0])
	}
	if seen[1].kind != KindSkip || seen[1].outcome != "rolled_back" {
		t.Errorf("second observation = %+v", seen[1])
	}
}
