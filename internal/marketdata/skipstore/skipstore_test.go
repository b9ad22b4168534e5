package skipstore

import (
	"testing"

	"chart-replayv1/internal/model"
)

func makeCandle(ts int64, close float64) model.Candle {
	return model.Candle{
		Time:   ts,
		Open:   close - 5,
		High:   close + 10,
		Low:    close - 10,
		Close:  close,
		Volume: 100,
	}
}

func TestAppend_AssignsMonotonicIDs(t *testing.T) {
	s := New()
	first := s.Append(model.TF5m, makeCandle(1000, 50000), false)
	second := s.Append(model.TF5m, makeCandle(1300, 50010), true)

	if first.ID != 1 || second.ID != 2 {
		t.Errorf("ids = %d, %d, want 1, 2", first.ID, second.ID)
	}
	if !second.Synthetic {
		t.Error("synthetic flag lost on append")
	}
	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}
}

func TestAppend_OnAppendHook(t *testing.T) {
	s := New()
	var got []model.SkipEvent
	s.OnAppend = func(ev model.SkipEvent) { got = append(got, ev) }

	s.Append(model.TF1m, makeCandle(60, 50000), false)
	s.Append(model.TF1m, makeCandle(120, 50001), false)

	if len(got) != 2 || got[1].ID != 2 {
		t.Errorf("hook saw %d events, want 2 ending at id 2", len(got))
	}
}

func TestProject_VisibleInEveryTimeframe(t *testing.T) {
	s := New()
	// A 15m-origin skip at 00:15.
	s.Append(model.TF15m, makeCandle(1704068100, 50000), false)

	// One candle everywhere, re-aligned to each target's boundary.
	cases := []struct {
		tf   model.Timeframe
		want int64
	}{
		{model.TF1m, 1704068100},
		{model.TF5m, 1704068100},
		{model.TF15m, 1704068100},
		{model.TF30m, 1704067200},
		{model.TF1h, 1704067200},
		{model.TF4h, 1704067200},
	}
	for _, c := range cases {
		got := s.Project(c.tf)
		if len(got) != 1 {
			t.Errorf("skip in %s: %d candles, want 1", c.tf, len(got))
			continue
		}
		if got[0].Time != c.want {
			t.Errorf("skip in %s at %d, want aligned %d", c.tf, got[0].Time, c.want)
		}
	}
}

func TestProject_FinerSkipsCollapseInCoarser(t *testing.T) {
	s := New()
	// Three 5m skips at 00:05, 00:10 and 00:15.
	s.Append(model.TF5m, makeCandle(1704067500, 50001), false)
	s.Append(model.TF5m, makeCandle(1704067800, 50002), false)
	s.Append(model.TF5m, makeCandle(1704068100, 50003), false)

	got := s.Project(model.TF15m)
	if len(got) != 2 {
		t.Fatalf("15m projection = %d candles, want 2", len(got))
	}
	// 00:05 and 00:10 share the 00:00 bucket; the latest append wins.
	if got[0].Time != 1704067200 || got[0].Close != 50002 {
		t.Errorf("bucket 00:00 = (%d, %v), want (1704067200, 50002)", got[0].Time, got[0].Close)
	}
	if got[1].Time != 1704068100 || got[1].Close != 50003 {
		t.Errorf("bucket 00:15 = (%d, %v), want (1704068100, 50003)", got[1].Time, got[1].Close)
	}
}

func TestProject_RealignsToTarget(t *testing.T) {
	s := New()
	// 15m skip at 00:15 projects onto the 5m grid unchanged (already
	// aligned) but onto its own grid at 00:15 too.
	s.Append(model.TF15m, makeCandle(1704068100, 50000), false)

	got := s.Project(model.TF5m)
	if len(got) != 1 || got[0].Time != 1704068100 {
		t.Fatalf("projection = %+v, want one candle at 1704068100", got)
	}
}

func TestProject_DedupKeepsMostRecent(t *testing.T) {
	s := New()
	// Two 15m skips whose aligned 15m timestamps collide.
	s.Append(model.TF15m, makeCandle(1704067200, 50000), false)
	s.Append(model.TF15m, makeCandle(1704067200, 60000), false)

	got := s.Project(model.TF15m)
	if len(got) != 1 {
		t.Fatalf("projection length = %d, want 1 after dedup", len(got))
	}
	if got[0].Close != 60000 {
		t.Errorf("dedup kept close %v, want the later append 60000", got[0].Close)
	}
}

func TestProject_SortedUniqueTimestamps(t *testing.T) {
	s := New()
	s.Append(model.TF30m, makeCandle(1704070800, 50002), false)
	s.Append(model.TF30m, makeCandle(1704067200, 50000), false)
	s.Append(model.TF30m, makeCandle(1704069000, 50001), false)

	got := s.Project(model.TF5m)
	if len(got) != 3 {
		t.Fatalf("projection length = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Time <= got[i-1].Time {
			t.Errorf("projection not strictly ascending at %d", i)
		}
	}
}

func TestContaminationLevels(t *testing.T) {
	s := New()
	if level, count := s.ContaminationLevel(model.TF5m); level != Clean || count != 0 {
		t.Errorf("empty store: level %s count %d, want CLEAN 0", level, count)
	}

	add := func(n int) {
		for i := 0; i < n; i++ {
			s.Append(model.TF5m, makeCandle(int64(1704067200+i*300), 50000), false)
		}
	}

	add(2)
	if level, _ := s.ContaminationLevel(model.TF5m); level != Light {
		t.Errorf("2 skips: level %s, want LIGHT", level)
	}
	add(3)
	if level, _ := s.ContaminationLevel(model.TF5m); level != Moderate {
		t.Errorf("5 skips: level %s, want MODERATE", level)
	}
	add(1)
	if level, count := s.ContaminationLevel(model.TF5m); level != Heavy || count != 6 {
		t.Errorf("6 skips: level %s count %d, want HEAVY 6", level, count)
	}

	// Every event pollutes every timeframe.
	if level, count := s.ContaminationLevel(model.TF15m); level != Heavy || count != 6 {
		t.Errorf("15m: level %s count %d, want HEAVY 6", level, count)
	}
}

func TestClear(t *testing.T) {
	s := New()
	s.Append(model.TF5m, makeCandle(1000, 50000), false)
	s.Clear()
	if s.Count() != 0 {
		t.Errorf("Count after Clear = %d, want 0", s.Count())
	}
	ev := s.Append(model.TF5m, makeCandle(2000, 50000), false)
	if ev.ID != 1 {
		t.Errorf("id after Clear = %d, want 1", ev.ID)
	}
}
