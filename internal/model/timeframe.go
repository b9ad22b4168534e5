package model

import "fmt"

// Timeframe is a symbolic candle interval from the fixed supported set.
// 1m is the base timeframe; all others are aggregates of it.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF2m  Timeframe = "2m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
)

var tfMinutes = map[Timeframe]int{
	TF1m:  1,
	TF2m:  2,
	TF3m:  3,
	TF5m:  5,
	TF15m: 15,
	TF30m: 30,
	TF1h:  60,
	TF4h:  240,
}

// Timeframes lists the supported set ordered by interval length.
func Timeframes() []Timeframe {
	return []Timeframe{TF1m, TF2m, TF3m, TF5m, TF15m, TF30m, TF1h, TF4h}
}

// ErrUnknownTimeframe is returned by ParseTimeframe for names outside the set.
var ErrUnknownTimeframe = fmt.Errorf("unknown timeframe")

// ParseTimeframe validates a timeframe name against the fixed set.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := tfMinutes[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, s)
	}
	return tf, nil
}

// Valid reports whether tf belongs to the supported set.
func (tf Timeframe) Valid() bool {
	_, ok := tfMinutes[tf]
	return ok
}

// Minutes returns the interval length in minutes (0 for unknown timeframes).
func (tf Timeframe) Minutes() int {
	return tfMinutes[tf]
}

// Seconds returns the interval length in seconds.
func (tf Timeframe) Seconds() int64 {
	return int64(tfMinutes[tf]) * 60
}

// Align snaps an epoch-second timestamp down to this timeframe's boundary.
func (tf Timeframe) Align(t int64) int64 {
	step := tf.Seconds()
	if step <= 0 {
		return t
	}
	return t - (t % step)
}
