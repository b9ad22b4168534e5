package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chart-replayv1/internal/marketdata/candlestore"
	"chart-replayv1/internal/model"
	"chart-replayv1/internal/transition"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// PlayControl is the auto-play loop surface the debug routes drive.
type PlayControl interface {
	// Toggle flips auto-play and returns the new state.
	Toggle() (bool, error)
	// SetSpeed stores the speed multiplier, clamped to its valid range.
	SetSpeed(v float64) float64
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, co *transition.Coordinator, play PlayControl, processStart time.Time) {
	// Embedded single-page client.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(indexHTML))
	})

	// WebSocket endpoint. A reconnecting client passes last_seq to
	// replay missed broadcasts.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("last_seq"), 10, 64)
		hub.HandleWSRequest(conn, lastSeq)
	})

	// REST: initial chart window on the active timeframe.
	mux.HandleFunc("/api/chart/data", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		update, err := co.InitialData()
		if err != nil {
			writeError(w, httpStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, update)
	})

	// REST: timeframe switch.
	mux.HandleFunc("/api/chart/change_timeframe", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if preflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		var req ChangeTimeframeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		tf, err := model.ParseTimeframe(req.Timeframe)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := co.SwitchTimeframe(tf, req.VisibleCandles)
		if err != nil {
			writeError(w, httpStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, TransitionResponse{
			Status:        "ok",
			TransactionID: res.Tx.ID,
			Timeframe:     string(res.Timeframe),
			Data:          res.Candles,
		})
	})

	// REST: go to date.
	mux.HandleFunc("/api/chart/go_to_date", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if preflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		var req GoToDateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		date, err := parseDate(req.TargetDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := co.GoToDate(date)
		if err != nil {
			writeError(w, httpStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, TransitionResponse{
			Status:        "ok",
			TransactionID: res.Tx.ID,
			Timeframe:     string(res.Timeframe),
			TargetDate:    date.UTC().Format("2006-01-02"),
			Data:          res.Candles,
		})
	})

	// Debug: advance one candle.
	mux.HandleFunc("/api/debug/skip", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if preflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		res, err := co.Skip()
		if err != nil {
			writeError(w, httpStatus(err), err.Error())
			return
		}
		resp := TransitionResponse{
			Status:        "ok",
			TransactionID: res.Tx.ID,
			Timeframe:     string(res.Timeframe),
			Synthetic:     res.SkipEvent != nil && res.SkipEvent.Synthetic,
		}
		if len(res.Candles) > 0 {
			resp.Candle = &res.Candles[0]
		}
		writeJSON(w, http.StatusOK, resp)
	})

	// Debug: timeframe switch via path suffix.
	mux.HandleFunc("/api/debug/set_timeframe/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if preflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		raw := strings.TrimPrefix(r.URL.Path, "/api/debug/set_timeframe/")
		tf, err := model.ParseTimeframe(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := co.SwitchTimeframe(tf, 0)
		if err != nil {
			writeError(w, httpStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, TransitionResponse{
			Status:        "ok",
			TransactionID: res.Tx.ID,
			Timeframe:     string(res.Timeframe),
		})
	})

	// Debug: auto-play speed.
	mux.HandleFunc("/api/debug/set_speed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if preflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		var req SetSpeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		applied := play.SetSpeed(req.Speed)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"speed":  applied,
		})
	})

	// Debug: toggle auto-play.
	mux.HandleFunc("/api/debug/toggle_play", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if preflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		on, err := play.Toggle()
		if err != nil {
			writeError(w, httpStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"play_mode": on,
		})
	})

	// Debug: full session snapshot.
	mux.HandleFunc("/api/debug/state", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		p50, p95, p99 := hub.Latency.Percentiles()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session":    co.Session().Snapshot(),
			"timeframes": co.Store().AvailableTimeframes(),
			"seq":        hub.Seq(),
			"broadcast_latency_ms": map[string]float64{
				"p50": p50, "p95": p95, "p99": p99,
			},
		})
	})

	// Debug: per-timeframe skip contamination.
	mux.HandleFunc("/api/debug/contamination", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		levels := make(map[string]interface{})
		for _, tf := range co.Store().AvailableTimeframes() {
			level, count := co.Skips().ContaminationLevel(tf)
			levels[string(tf)] = map[string]interface{}{
				"level":      level.String(),
				"skip_count": count,
			}
		}
		snap := co.Session().Snapshot()
		needsRec := snap.SkipOps > 0 || snap.SeriesState == "SKIP_MODIFIED" || snap.SeriesState == "CORRUPTED"
		version := snap.Version
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"timeframes":       levels,
			"needs_recreation": needsRec,
			"version":          version,
			"total_skip_ops":   co.Skips().Count(),
		})
	})

	// Health endpoint.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

// preflight answers OPTIONS requests.
func preflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

// parseDate accepts "YYYY-MM-DD" or RFC 3339 and reduces to a UTC day.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Truncate(24 * time.Hour), nil
	}
	return time.Time{}, transition.ErrBadDate
}

// httpStatus maps domain errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrUnknownTimeframe), errors.Is(err, transition.ErrBadDate):
		return http.StatusBadRequest
	case errors.Is(err, candlestore.ErrTimeframeUnavailable):
		return http.StatusNotFound
	case errors.Is(err, transition.ErrEndOfData):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
