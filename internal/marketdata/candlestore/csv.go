package candlestore

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"chart-replayv1/internal/model"
)

// Two accepted CSV shapes, detected per file from the header row:
//
//   epoch layout:    time,open,high,low,close,volume  (epoch seconds)
//   datetime layout: <unnamed first column>,Open,High,Low,Close,Volume
//
// Datetime values are parsed day-first where the order is ambiguous,
// matching the source datasets. Malformed rows are skipped, not fatal;
// the skip count is logged once per file.

// datetimeLayouts is tried in order. Day-first layouts come before any
// ambiguous alternative so "03/04/2024" reads as April 3rd.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
}

// LoadCSV reads one timeframe's dataset from path into the store.
// A missing or empty file leaves the timeframe unavailable and returns
// an error the caller may treat as non-fatal (other timeframes still load).
func (s *Store) LoadCSV(tf model.Timeframe, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s dataset: %w", tf, err)
	}
	defer f.Close()

	candles, skipped, err := parseCSV(f)
	if err != nil {
		return fmt.Errorf("parse %s dataset: %w", tf, err)
	}
	if skipped > 0 {
		log.Printf("[candlestore] %s: skipped %d unparseable rows", tf, skipped)
	}
	if len(candles) == 0 {
		return fmt.Errorf("%s dataset is empty after parsing", tf)
	}
	s.Put(tf, candles)
	return nil
}

func parseCSV(r io.Reader) ([]model.Candle, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}

	cols, epochLayout, err := detectLayout(header)
	if err != nil {
		return nil, 0, err
	}

	var (
		candles []model.Candle
		skipped int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		c, ok := parseRow(rec, cols, epochLayout)
		if !ok {
			skipped++
			continue
		}
		candles = append(candles, c)
	}
	return candles, skipped, nil
}

// columns maps field -> CSV column index. -1 marks an absent column.
type columns struct {
	time, open, high, low, close, volume int
}

func detectLayout(header []string) (columns, bool, error) {
	cols := columns{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "time", "timestamp", "date", "datetime":
			if cols.time == -1 {
				cols.time = i
			}
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close":
			cols.close = i
		case "volume", "vol":
			cols.volume = i
		}
	}

	// Datetime layout carries an unnamed first column with the timestamp.
	if cols.time == -1 && len(header) > 0 && strings.TrimSpace(header[0]) == "" {
		cols.time = 0
	}
	if cols.time == -1 || cols.open == -1 || cols.high == -1 || cols.low == -1 || cols.close == -1 {
		return cols, false, fmt.Errorf("unrecognized CSV header: %v", header)
	}

	// Epoch layout is signaled by the lowercase "time" column name.
	epochLayout := false
	if cols.time < len(header) && strings.TrimSpace(header[cols.time]) == "time" {
		epochLayout = true
	}
	return cols, epochLayout, nil
}

func parseRow(rec []string, cols columns, epochLayout bool) (model.Candle, bool) {
	get := func(i int) (string, bool) {
		if i < 0 || i >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(rec[i]), true
	}

	ts, ok := get(cols.time)
	if !ok || ts == "" {
		return model.Candle{}, false
	}

	var epoch int64
	if epochLayout {
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			// Some epoch-layout exports carry fractional seconds.
			f, ferr := strconv.ParseFloat(ts, 64)
			if ferr != nil {
				return model.Candle{}, false
			}
			n = int64(f)
		}
		epoch = n
	} else {
		t, err := parseDatetime(ts)
		if err != nil {
			return model.Candle{}, false
		}
		epoch = t.Unix()
	}

	parseF := func(i int) (float64, bool) {
		v, ok := get(i)
		if !ok || v == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}

	open, ok1 := parseF(cols.open)
	high, ok2 := parseF(cols.high)
	low, ok3 := parseF(cols.low)
	close_, ok4 := parseF(cols.close)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return model.Candle{}, false
	}

	// Volume is optional; null/missing reads as 0.
	volume, _ := parseF(cols.volume)

	c := model.Candle{
		Time:   epoch,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close_,
		Volume: volume,
	}
	if !c.Finite() {
		return model.Candle{}, false
	}
	return c, true
}

// parseDatetime tries the accepted layouts in order, always in UTC.
func parseDatetime(s string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable datetime %q", s)
}
