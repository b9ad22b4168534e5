package model

import (
	"encoding/json"
	"math"
)

// Candle represents one OHLCV candle for the replay instrument.
// Time is the candle's open timestamp in epoch seconds (UTC), aligned
// to the timeframe's minute boundary. Prices are float64 because the
// source datasets carry fractional index points.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Finite reports whether every numeric field is a finite number.
func (c *Candle) Finite() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// OHLCConsistent reports whether low <= open,close <= high holds.
func (c *Candle) OHLCConsistent() bool {
	if c.Low > c.High {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	if c.High < c.Open || c.High < c.Close {
		return false
	}
	return true
}
