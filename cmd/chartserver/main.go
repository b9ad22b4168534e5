package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"chart-replayv1/config"
	"chart-replayv1/internal/autoplay"
	"chart-replayv1/internal/gateway"
	"chart-replayv1/internal/logger"
	"chart-replayv1/internal/marketdata/agg"
	"chart-replayv1/internal/marketdata/candlestore"
	"chart-replayv1/internal/marketdata/skipstore"
	"chart-replayv1/internal/marketdata/validate"
	"chart-replayv1/internal/metrics"
	"chart-replayv1/internal/model"
	"chart-replayv1/internal/session"
	sqlitestore "chart-replayv1/internal/store/sqlite"
	"chart-replayv1/internal/transition"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[chartserver] starting...")

	cfg := config.Load()
	logger.Init("chartserver", slog.LevelInfo)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown context ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Optional SQLite archive ----
	var (
		sqlWriter *sqlitestore.Writer
		sqlReader *sqlitestore.Reader
	)
	if cfg.SQLitePath != "" {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		var err error
		sqlWriter, err = sqlitestore.NewWriter(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[chartserver] sqlite init failed: %v", err)
		}
		defer sqlWriter.Close()
		sqlWriter.SetCommitObserver(func(d time.Duration) {
			prom.SQLiteCommitDur.Observe(d.Seconds())
		})
		sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[chartserver] sqlite reader init failed: %v", err)
		}
		defer sqlReader.Close()
		log.Println("[chartserver] sqlite archive ready")
	}

	// ---- Optional Redis broadcast mirror ----
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[chartserver] WARNING: redis unreachable: %v (continuing without mirror)", err)
			rdb = nil
		} else {
			log.Println("[chartserver] redis mirror ready")
		}
	}

	// ---- Load candle data ----
	store := candlestore.New()
	validator := validate.New()
	loadSeries(store, cfg, sqlReader, prom)

	if !store.Available(cfg.DefaultTF) {
		log.Fatalf("[chartserver] no data for default timeframe %s", cfg.DefaultTF)
	}
	health.SetDataLoaded(true)

	// Mirror loaded series into the archive off the startup path.
	if sqlWriter != nil {
		go func() {
			for _, tf := range store.AvailableTimeframes() {
				series, err := store.Series(tf)
				if err != nil {
					continue
				}
				if err := sqlWriter.ArchiveSeries(tf, series); err != nil {
					log.Printf("[chartserver] archive %s failed: %v", tf, err)
				}
			}
		}()
	}
	// ---- Periodic liveness checks ----
	if sqlWriter != nil || rdb != nil {
		var db *sql.DB
		if sqlWriter != nil {
			db = sqlWriter.DB()
		}
		health.StartLivenessChecker(ctx, rdb, db, 15*time.Second)
	}

	// ---- Session anchored at the last candle of the default TF ----
	last, err := store.Last(cfg.DefaultTF)
	if err != nil {
		log.Fatalf("[chartserver] empty series for %s: %v", cfg.DefaultTF, err)
	}
	sess := session.NewSession(cfg.DefaultTF, last.Time)

	// ---- Skip log + journal ----
	skips := skipstore.New()
	skips.OnAppend = func(ev model.SkipEvent) {
		prom.SkipsTotal.Inc()
		if ev.Synthetic {
			prom.SyntheticSkips.Inc()
		}
		if sqlWriter != nil {
			if err := sqlWriter.JournalSkip(ev); err != nil {
				log.Printf("[chartserver] skip journal failed: %v", err)
			}
		}
	}

	// ---- Gateway + coordinator + auto-play ----
	hub := gateway.NewHub(rdb)
	co := transition.NewCoordinator(store, skips, validator, sess, hub, transition.Config{
		VisibleWindow: cfg.VisibleWindow,
		TimeoutNormal: cfg.TransitionTimeout,
		TimeoutGoTo:   cfg.TransitionTimeoutGoTo,
	})
	co.SetObserver(func(kind transition.Kind, outcome string, d time.Duration) {
		prom.TransitionsTotal.WithLabelValues(string(kind), outcome).Inc()
		prom.TransitionDur.WithLabelValues(string(kind)).Observe(d.Seconds())
	})
	hub.Initial = co.InitialData
	hub.OnDrop = func(n int) { prom.BroadcastDrops.Add(float64(n)) }
	hub.OnRecreation = prom.Recreations.Inc
	hub.OnMirrorFailure = prom.MirrorFailures.Inc

	loop := autoplay.New(co, sess)
	co.SetPlayer(loop)
	loop.Notify = func(on bool) {
		hub.SendUpdate(transition.StateUpdate{
			Type:      "play_state_changed",
			Timeframe: sess.ActiveTF(),
			PlayMode:  &on,
		})
	}

	// ---- WS client gauge ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.WSClients.Set(float64(hub.ClientCount()))
			}
		}
	}()

	// ---- HTTP server ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, co, loop, time.Now())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	go func() {
		log.Printf("[chartserver] listening on :%d (tfs=%v, window=%d)",
			cfg.Port, store.AvailableTimeframes(), cfg.VisibleWindow)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[chartserver] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[chartserver] shutting down...")
	cancel()
	loop.Pause()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	log.Println("[chartserver] stopped")
}

// loadSeries fills the store from CSV files, falling back to the SQLite
// archive and then to aggregation from a finer timeframe.
func loadSeries(store *candlestore.Store, cfg *config.Config, sqlReader *sqlitestore.Reader, prom *metrics.Metrics) {
	for _, tf := range model.Timeframes() {
		path := filepath.Join(cfg.DataPath, string(tf)+".csv")
		if err := store.LoadCSV(tf, path); err != nil {
			if sqlReader != nil {
				series, rerr := sqlReader.ReadSeries(tf)
				if rerr == nil && len(series) > 0 {
					store.Put(tf, series)
					log.Printf("[chartserver] %s restored from sqlite archive (%d candles)", tf, len(series))
					continue
				}
			}
			log.Printf("[chartserver] %s: no CSV at %s, will try aggregation", tf, path)
		}
	}

	// Aggregate missing coarse timeframes from the finest compatible
	// source present.
	aggregator := agg.New()
	for _, tf := range model.Timeframes() {
		if store.Available(tf) {
			continue
		}
		for _, src := range model.Timeframes() {
			if !store.Available(src) || src.Minutes() >= tf.Minutes() || tf.Minutes()%src.Minutes() != 0 {
				continue
			}
			series, err := store.Series(src)
			if err != nil {
				continue
			}
			rolled, err := aggregator.Rollup(series, src, tf)
			if err != nil || len(rolled) == 0 {
				continue
			}
			store.Put(tf, rolled)
			log.Printf("[chartserver] %s aggregated from %s (%d candles)", tf, src, len(rolled))
			break
		}
	}

	for _, tf := range store.AvailableTimeframes() {
		prom.CandlesLoaded.WithLabelValues(string(tf)).Set(float64(store.Len(tf)))
	}
}
