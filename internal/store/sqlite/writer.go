// Package sqlite mirrors the replay server's working set to disk: the
// loaded candle series per timeframe and the append-only skip journal.
// The mirror is an archive and a fallback data source; the in-memory
// stores stay authoritative for session state.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"chart-replayv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const insertBatchSize = 500

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// onCommit, when set, receives batch commit durations for metrics.
	onCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// SetCommitObserver attaches a commit duration hook.
func (w *Writer) SetCommitObserver(fn func(d time.Duration)) { w.onCommit = fn }

// NewWriter opens the database in WAL mode and creates the schema.
func NewWriter(dbPath string) (*Writer, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer connection; WAL readers do not block it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			tf     TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL,
			PRIMARY KEY (tf, ts)
		);

		CREATE TABLE IF NOT EXISTS skip_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			origin_tf  TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL,
			synthetic  INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

// ArchiveSeries mirrors a full timeframe series in batched
// transactions. Existing rows for the same (tf, ts) are replaced.
func (w *Writer) ArchiveSeries(tf model.Timeframe, candles []model.Candle) error {
	for start := 0; start < len(candles); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(candles) {
			end = len(candles)
		}
		if err := w.insertBatch(tf, candles[start:end]); err != nil {
			return err
		}
	}
	log.Printf("[sqlite] archived %d candles for %s", len(candles), tf)
	return nil
}

func (w *Writer) insertBatch(tf model.Timeframe, candles []model.Candle) error {
	start := time.Now()
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(string(tf), c.Time, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if w.onCommit != nil {
		w.onCommit(time.Since(start))
	}
	return nil
}

// JournalSkip appends a skip event to the journal. The journal is an
// audit trail; the server never reads it back for session state.
func (w *Writer) JournalSkip(ev model.SkipEvent) error {
	synthetic := 0
	if ev.Synthetic {
		synthetic = 1
	}
	_, err := w.db.Exec(`
		INSERT INTO skip_events (origin_tf, ts, open, high, low, close, volume, synthetic, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(ev.OriginTF), ev.Time,
		ev.Candle.Open, ev.Candle.High, ev.Candle.Low, ev.Candle.Close, ev.Candle.Volume,
		synthetic, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite journal skip: %w", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
