package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"chart-replayv1/internal/transition"
)

// The Hub implements transition.Broadcaster: one envelope per protocol
// message, fanned out to all clients and mirrored to Redis when a
// mirror is configured.

// SendUpdate emits exactly one state update message per transition.
func (h *Hub) SendUpdate(u transition.StateUpdate) error {
	envelope, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal %s update: %w", u.Type, err)
	}
	h.fanOut(u.Type, envelope)
	h.mirror(u.Type, envelope)
	return nil
}

// SendRecreation emits a chart_series_recreation command and waits for
// the client's recreation_ack or the context deadline. The returned
// error only signals a missed ack; the coordinator continues either
// way.
func (h *Hub) SendRecreation(ctx context.Context, version int, txID string) error {
	ack := h.registerAck(txID)
	if h.OnRecreation != nil {
		h.OnRecreation()
	}

	envelope, err := json.Marshal(map[string]interface{}{
		"type":           "chart_series_recreation",
		"version":        version,
		"transaction_id": txID,
	})
	if err != nil {
		h.dropAck(txID)
		return err
	}
	h.fanOut("chart_series_recreation", envelope)
	h.mirror("chart_series_recreation", envelope)

	if h.ClientCount() == 0 {
		h.dropAck(txID)
		return fmt.Errorf("no client connected for recreation %s", txID)
	}

	select {
	case v, ok := <-ack:
		if !ok {
			return fmt.Errorf("client disconnected during recreation %s", txID)
		}
		if v != version {
			log.Printf("[gateway] recreation %s acked stale version %d (want %d)", txID, v, version)
		}
		return nil
	case <-ctx.Done():
		h.dropAck(txID)
		return fmt.Errorf("recreation ack %s: %w", txID, ctx.Err())
	}
}

// SendEmergencyRecovery tells the client to fall back to a full reload.
func (h *Hub) SendEmergencyRecovery(txID, reason string) {
	envelope, err := json.Marshal(map[string]interface{}{
		"type":           "emergency_recovery_required",
		"transaction_id": txID,
		"reason":         reason,
	})
	if err != nil {
		return
	}
	log.Printf("[gateway] emergency recovery signalled for %s: %s", txID, reason)
	h.fanOut("emergency_recovery_required", envelope)
	h.mirror("emergency_recovery_required", envelope)
}

// mirror publishes an envelope to pub:replay:<type> when a Redis
// mirror is configured. Failures are logged, never propagated.
func (h *Hub) mirror(msgType string, envelope []byte) {
	if h.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.rdb.Publish(ctx, "pub:replay:"+msgType, envelope).Err(); err != nil {
		log.Printf("[gateway] redis mirror failed for %s: %v", msgType, err)
		if h.OnMirrorFailure != nil {
			h.OnMirrorFailure()
		}
	}
}
