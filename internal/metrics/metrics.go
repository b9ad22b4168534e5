// Package metrics exposes Prometheus instrumentation and the liveness
// surface for the replay server.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the replay server.
type Metrics struct {
	TransitionsTotal *prometheus.CounterVec // labels: kind, outcome
	TransitionDur    *prometheus.HistogramVec

	SkipsTotal     prometheus.Counter
	SyntheticSkips prometheus.Counter

	CandlesLoaded *prometheus.GaugeVec // labels: tf

	WSClients      prometheus.Gauge
	BroadcastDrops prometheus.Counter
	Recreations    prometheus.Counter

	SQLiteCommitDur prometheus.Histogram
	MirrorFailures  prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_transitions_total",
			Help: "Completed transitions by kind and outcome",
		}, []string{"kind", "outcome"}),
		TransitionDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replay_transition_duration_seconds",
			Help:    "Wall time per transition, PRE through BROADCAST",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}, []string{"kind"}),
		SkipsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_skips_total",
			Help: "Total skip operations, manual and auto-play",
		}),
		SyntheticSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_synthetic_skips_total",
			Help: "Skips that produced a synthetic continuation candle",
		}),
		CandlesLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replay_candles_loaded",
			Help: "Historical candles held in memory per timeframe",
		}, []string{"tf"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_broadcast_drops_total",
			Help: "Envelopes dropped for slow clients",
		}),
		Recreations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_series_recreations_total",
			Help: "Chart series recreation commands issued",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "replay_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		MirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_redis_mirror_failures_total",
			Help: "Failed publishes to the Redis broadcast mirror",
		}),
	}

	prometheus.MustRegister(
		m.TransitionsTotal,
		m.TransitionDur,
		m.SkipsTotal,
		m.SyntheticSkips,
		m.CandlesLoaded,
		m.WSClients,
		m.BroadcastDrops,
		m.Recreations,
		m.SQLiteCommitDur,
		m.MirrorFailures,
	)

	return m
}

// HealthStatus tracks dependency health for the liveness endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	DataLoaded     bool `json:"data_loaded"`
	RedisConnected bool `json:"redis_connected"`
	SQLiteOK       bool `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// Optional dependencies count as healthy when absent.
	redisEnabled  bool
	sqliteEnabled bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// SetDataLoaded records whether the candle store finished loading.
func (h *HealthStatus) SetDataLoaded(v bool) {
	h.mu.Lock()
	h.DataLoaded = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqliteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb and sqlDB
// may be nil when the corresponding dependency is not configured.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.DataLoaded ||
		(h.redisEnabled && !h.RedisConnected) ||
		(h.sqliteEnabled && !h.SQLiteOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.DataLoaded {
		overallStatus = "unhealthy"
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		DataLoaded      bool    `json:"data_loaded"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		DataLoaded:      h.DataLoaded,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
