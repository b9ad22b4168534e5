// Package transition orchestrates every state-changing operation of a
// replay session through a 5-phase transactional protocol:
//
//	PRE -> DESTRUCT -> LOAD -> COMMIT -> BROADCAST
//
// All operations on one session are serialized by a single transition
// mutex; a transaction is closed (DONE or ROLLED_BACK) before the
// request returns.
package transition

import (
	"context"
	"errors"

	"chart-replayv1/internal/model"
)

// Kind identifies the user operation a transaction executes.
type Kind string

const (
	KindGoTo         Kind = "GOTO"
	KindSwitchTF     Kind = "SWITCH_TF"
	KindSkip         Kind = "SKIP"
	KindAutoplayTick Kind = "AUTOPLAY_TICK"
)

// Phase tracks a transaction through the protocol.
type Phase string

const (
	PhasePre        Phase = "PRE"
	PhaseDestruct   Phase = "DESTRUCT"
	PhaseLoad       Phase = "LOAD"
	PhaseCommit     Phase = "COMMIT"
	PhaseBroadcast  Phase = "BROADCAST"
	PhaseDone       Phase = "DONE"
	PhaseRolledBack Phase = "ROLLED_BACK"
)

// Transaction is the explicit record of one transition.
type Transaction struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	FromTF        model.Timeframe `json:"from_tf"`
	ToTF          model.Timeframe `json:"to_tf"`
	RequestedTime int64           `json:"requested_time"`
	Phase         Phase           `json:"phase"`

	// Transition plan, computed in PRE.
	NeedsRecreation bool   `json:"needs_recreation"`
	Reason          string `json:"reason,omitempty"`
	ExpectedCount   int    `json:"expected_candle_count"`
}

// Contamination summarizes skip pollution for the broadcast payload.
type Contamination struct {
	Level     string `json:"level"`
	SkipCount int    `json:"skip_count"`
}

// VisibleRange hints the client at the window it should display.
type VisibleRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// StateUpdate is the single typed message a transition broadcasts.
// Every field is a scalar, a string or an array of flat records; no
// tabular objects ever cross the wire.
type StateUpdate struct {
	Type            string          `json:"type"`
	Candles         []model.Candle  `json:"data,omitempty"`
	Timeframe       model.Timeframe `json:"timeframe"`
	TransactionID   string          `json:"transaction_id"`
	NeedsRecreation bool            `json:"needs_recreation"`
	Contamination   *Contamination  `json:"contamination,omitempty"`
	VisibleRange    *VisibleRange   `json:"visible_range,omitempty"`
	ClearCache      bool            `json:"clear_cache,omitempty"`
	LoadAnchor      int64           `json:"load_anchor,omitempty"`
	TargetDate      string          `json:"target_date,omitempty"`
	Synthetic       bool            `json:"synthetic,omitempty"`
	PlayMode        *bool           `json:"play_mode,omitempty"`
}

// Broadcaster is the duplex channel the coordinator drives. The
// gateway implements it; tests substitute a recorder.
type Broadcaster interface {
	// SendRecreation emits a chart_series_recreation command and waits
	// for the client ack or the context deadline. A timeout or a client
	// disconnect is reported as an error; the coordinator continues
	// optimistically in both cases.
	SendRecreation(ctx context.Context, version int, txID string) error

	// SendUpdate emits exactly one state update message.
	SendUpdate(u StateUpdate) error

	// SendEmergencyRecovery tells the client to reload after a
	// destructive transition could not complete cleanly.
	SendEmergencyRecovery(txID, reason string)
}

// Player lets the coordinator pause auto-play at the start of a
// Go-To-Date (the loop lives in internal/autoplay).
type Player interface {
	// Pause stops auto-play if running and reports whether it was.
	Pause() bool
}

// Result carries a completed transition back to the HTTP layer.
type Result struct {
	Tx        Transaction
	Candles   []model.Candle
	Timeframe model.Timeframe

	// Skip transitions only.
	SkipEvent *model.SkipEvent
}

// ErrEndOfData is returned by AutoplayTick when the dataset is
// exhausted; the loop stops and the cursor clamps at the last candle.
var ErrEndOfData = errors.New("end of dataset")

// ErrBadDate is returned for unparseable Go-To-Date inputs.
var ErrBadDate = errors.New("invalid target date")
