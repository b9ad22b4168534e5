package model

import "encoding/json"

// SkipEvent records one user-generated "next candle" advancement.
// Events are append-only: once created they are never mutated or
// deleted for the process lifetime. The candle keeps its origin
// timeframe's alignment; projections into other timeframes re-align
// on read.
type SkipEvent struct {
	ID        int64     `json:"id"`
	Time      int64     `json:"time"`
	OriginTF  Timeframe `json:"origin_timeframe"`
	Candle    Candle    `json:"candle"`
	Synthetic bool      `json:"synthetic"`
	CreatedAt int64     `json:"created_at"`
}

// JSON returns the JSON-encoded event.
func (e *SkipEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
