package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	"chart-replayv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to the candle archive. Startup uses
// it as the fallback data source for timeframes whose CSV file is
// missing but was archived by an earlier run.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadSeries loads the archived series for a timeframe in ascending
// time order. An empty result means the timeframe was never archived.
func (r *Reader) ReadSeries(tf model.Timeframe) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE tf = ?
		ORDER BY ts ASC
	`, string(tf))
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var volume sql.NullFloat64
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		if volume.Valid {
			c.Volume = volume.Float64
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ArchivedTimeframes lists the timeframes present in the archive.
func (r *Reader) ArchivedTimeframes() ([]model.Timeframe, error) {
	rows, err := r.db.Query(`SELECT DISTINCT tf FROM candles`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query timeframes: %w", err)
	}
	defer rows.Close()

	var tfs []model.Timeframe
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		tf, err := model.ParseTimeframe(raw)
		if err != nil {
			continue
		}
		tfs = append(tfs, tf)
	}
	return tfs, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
