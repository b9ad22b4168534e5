// Package autoplay drives the replay forward automatically, issuing one
// skip transition per tick at a configurable speed multiplier.
package autoplay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"chart-replayv1/internal/session"
	"chart-replayv1/internal/transition"
)

const (
	// MinSpeed and MaxSpeed bound the playback multiplier.
	MinSpeed = 1.0
	MaxSpeed = 15.0

	// baseInterval is the tick cadence at 1x speed.
	baseInterval = time.Second
)

// Loop owns the auto-play goroutine. Exactly one tick is in flight at a
// time; each tick runs a full skip transition through the coordinator,
// so auto-play serializes against manual operations on the transition
// mutex.
type Loop struct {
	co   *transition.Coordinator
	sess *session.Session

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Notify, when set, is called after the loop stops on its own so
	// the gateway can tell the client play mode flipped off.
	Notify func(on bool)
}

// New creates a stopped auto-play loop.
func New(co *transition.Coordinator, sess *session.Session) *Loop {
	return &Loop{co: co, sess: sess}
}

// Toggle flips auto-play and returns the new state.
func (l *Loop) Toggle() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.stopLocked()
		l.sess.SetPlayMode(false)
		return false, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.sess.SetPlayMode(true)
	go l.run(ctx, l.done)
	return true, nil
}

// Pause stops auto-play if running and reports whether it was. The
// coordinator calls this at the start of a Go-To-Date, where the tick
// in flight (if any) has already finished: Pause runs under the same
// transition mutex ticks take.
func (l *Loop) Pause() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return false
	}
	l.stopLocked()
	l.sess.SetPlayMode(false)
	return true
}

// stopLocked cancels the loop without waiting for the goroutine; the
// goroutine observes ctx between ticks and exits.
func (l *Loop) stopLocked() {
	l.cancel()
	l.cancel = nil
	l.done = nil
}

// SetSpeed stores the multiplier, clamped to [MinSpeed, MaxSpeed], and
// returns the applied value. Takes effect on the next tick.
func (l *Loop) SetSpeed(v float64) float64 {
	if v < MinSpeed {
		v = MinSpeed
	}
	if v > MaxSpeed {
		v = MaxSpeed
	}
	l.sess.SetSpeed(v)
	return v
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	log.Printf("[autoplay] started at %.1fx", l.sess.Speed())

	for {
		interval := time.Duration(float64(baseInterval) / l.sess.Speed())
		select {
		case <-ctx.Done():
			log.Println("[autoplay] stopped")
			return
		case <-time.After(interval):
		}

		if _, err := l.co.AutoplayTick(); err != nil {
			if errors.Is(err, transition.ErrEndOfData) {
				log.Println("[autoplay] end of dataset, stopping")
				l.stopAtEnd()
				return
			}
			log.Printf("[autoplay] tick failed, stopping: %v", err)
			l.stopAtEnd()
			return
		}
	}
}

// stopAtEnd clears the loop state after the goroutine stops itself.
func (l *Loop) stopAtEnd() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
		l.done = nil
	}
	l.mu.Unlock()
	l.sess.SetPlayMode(false)
	if l.Notify != nil {
		l.Notify(false)
	}
}
