package gateway

import "sync"

// replayEntry holds one broadcast envelope for reconnect catch-up.
type replayEntry struct {
	seq  int64
	data []byte
}

// ReplayBuffer is a fixed-size circular buffer of recent WS envelopes.
// A client that reconnects with ?last_seq gets the envelopes it missed
// instead of a full snapshot, as long as the gap fits the buffer.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &ReplayBuffer{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

// Push appends an envelope, overwriting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	rb.buf[rb.pos] = replayEntry{seq: seq, data: cp}
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 && !rb.full {
		rb.full = true
	}
}

// Since returns all envelopes with seq > fromSeq in sequence order.
// Returns nil when the oldest buffered envelope is already past
// fromSeq+1, meaning the gap cannot be filled from the buffer.
func (rb *ReplayBuffer) Since(fromSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := rb.len()
	if count == 0 {
		return nil
	}
	oldest := rb.buf[rb.index(0)].seq
	if oldest > fromSeq+1 {
		return nil
	}

	var result [][]byte
	for i := 0; i < count; i++ {
		e := rb.buf[rb.index(i)]
		if e.seq > fromSeq {
			result = append(result, e.data)
		}
	}
	return result
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}
