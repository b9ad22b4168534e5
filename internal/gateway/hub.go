// Package gateway is the HTTP and WebSocket surface of the replay
// server. The Hub owns connected clients and implements the
// transition.Broadcaster contract; handlers.go maps the REST routes
// onto the coordinator.
package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"chart-replayv1/internal/transition"
)

// Hub manages WebSocket clients and fans state updates out to them.
// The documented deployment serves a single client, but nothing here
// depends on that: every connected client receives every update.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	// latest keeps the last envelope per message type so a client that
	// reconnects can be brought up to date immediately.
	latest map[string][]byte

	// replayBuf holds recent envelopes for reconnect catch-up via
	// ?last_seq.
	replayBuf *ReplayBuffer

	// ackWaiters maps a transaction ID to the channel its recreation
	// ack resolves.
	ackMu      sync.Mutex
	ackWaiters map[string]chan int

	// Latency tracks broadcast fan-out time percentiles.
	Latency *LatencyTracker

	// Initial builds the initial_chart_data payload sent to every
	// newly connected client. Wired by main to the coordinator.
	Initial func() (transition.StateUpdate, error)

	// OnDrop, OnRecreation and OnMirrorFailure are optional metric
	// hooks, wired by main.
	OnDrop          func(n int)
	OnRecreation    func()
	OnMirrorFailure func()

	// rdb, when non-nil, mirrors every envelope to the Redis channel
	// pub:replay:<type>. Purely observational; the server never reads
	// these channels back.
	rdb *goredis.Client
}

// NewHub creates a Hub. rdb may be nil when no Redis mirror is
// configured.
func NewHub(rdb *goredis.Client) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		latest:     make(map[string][]byte),
		replayBuf:  NewReplayBuffer(256),
		ackWaiters: make(map[string]chan int),
		Latency:    NewLatencyTracker(4096),
		rdb:        rdb,
	}
}

// HandleWSRequest registers an upgraded connection and starts its
// pumps. lastSeq, when positive, triggers replay of missed envelopes
// instead of a fresh initial payload.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastSeq int64) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastSeq)
	go client.writePump()
	go client.readPump()
}

// RemoveClient drops a client from the hub. When the last client goes,
// any transition waiting on a recreation ack is released immediately:
// nobody is left to ack.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	empty := false
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		empty = len(h.clients) == 0
	}
	h.mu.Unlock()

	if empty {
		h.abortAcks()
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// resolveAck completes the waiter for txID, if any. Called from client
// readPumps when a recreation_ack arrives.
func (h *Hub) resolveAck(txID string, version int) {
	h.ackMu.Lock()
	ch, ok := h.ackWaiters[txID]
	if ok {
		delete(h.ackWaiters, txID)
	}
	h.ackMu.Unlock()
	if ok {
		ch <- version
		close(ch)
	}
}

// registerAck installs a waiter for txID and returns its channel.
func (h *Hub) registerAck(txID string) chan int {
	ch := make(chan int, 1)
	h.ackMu.Lock()
	h.ackWaiters[txID] = ch
	h.ackMu.Unlock()
	return ch
}

// dropAck removes a waiter that timed out.
func (h *Hub) dropAck(txID string) {
	h.ackMu.Lock()
	delete(h.ackWaiters, txID)
	h.ackMu.Unlock()
}

// abortAcks fails every outstanding ack waiter by closing its channel
// without a value.
func (h *Hub) abortAcks() {
	h.ackMu.Lock()
	for id, ch := range h.ackWaiters {
		delete(h.ackWaiters, id)
		close(ch)
	}
	h.ackMu.Unlock()
}

// fanOut sends an envelope to every connected client. Slow clients
// drop messages rather than block the broadcast.
func (h *Hub) fanOut(msgType string, envelope []byte) {
	start := time.Now()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.latest[msgType] = envelope
	h.mu.Unlock()

	h.replayBuf.Push(seq, envelope)

	h.mu.RLock()
	dropped := 0
	for client := range h.clients {
		select {
		case client.send <- envelope:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		log.Printf("[gateway] broadcast %s dropped for %d slow client(s)", msgType, dropped)
		if h.OnDrop != nil {
			h.OnDrop(dropped)
		}
	}
	if h.Latency != nil {
		h.Latency.Record(float64(time.Since(start).Microseconds()) / 1000.0)
	}
}

// latestEnvelopes snapshots the newest envelope per message type.
func (h *Hub) latestEnvelopes() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v
	}
	return cp
}

// Seq returns the current global broadcast sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}
