package gateway

import (
	"encoding/json"
	"net/http"

	"chart-replayv1/internal/model"
)

// ChangeTimeframeRequest is the body of POST /api/chart/change_timeframe.
type ChangeTimeframeRequest struct {
	Timeframe      string `json:"timeframe"`
	VisibleCandles int    `json:"visible_candles"`
}

// GoToDateRequest is the body of POST /api/chart/go_to_date. TargetDate
// is "YYYY-MM-DD"; a full RFC 3339 timestamp is also accepted and
// truncated to its day.
type GoToDateRequest struct {
	TargetDate string `json:"target_date"`
}

// SetSpeedRequest is the body of POST /api/debug/set_speed.
type SetSpeedRequest struct {
	Speed float64 `json:"speed"`
}

// TransitionResponse acknowledges a completed transition over REST. The
// same candles also travel over the WebSocket broadcast; the REST copy
// lets curl-driven debugging see the result without a socket.
type TransitionResponse struct {
	Status        string         `json:"status"`
	TransactionID string         `json:"transaction_id"`
	Timeframe     string         `json:"timeframe"`
	TargetDate    string         `json:"target_date,omitempty"`
	Data          []model.Candle `json:"data,omitempty"`
	Candle        *model.Candle  `json:"candle,omitempty"`
	Synthetic     bool           `json:"synthetic,omitempty"`
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body. Error responses never fall back
// to plain text: an HTML error page would break the client parser.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"status": "error", "message": msg})
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
