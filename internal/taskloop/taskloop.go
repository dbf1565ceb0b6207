// Package taskloop renders the spec's single cooperative task (§5): one
// goroutine drains a queue of posted callbacks -- radio receives, timer
// fires, and "publish needed" events alike -- running each to completion
// before the next is dispatched. No component in internal/ holds its own
// mutex; the taskloop's single-consumer guarantee is what makes that safe,
// mirroring §5's "no locks are needed" statement. Grounded on the teacher's
// internal/events/stream.go channel-based event delivery, reshaped from
// multi-subscriber ack'd fan-out into the spec's single-consumer model.
package taskloop

import (
	"context"
	"sync"
	"time"

	"meshnet/internal/ports"
)

// Loop is the cooperative event loop. The zero value is not usable; call
// New.
type Loop struct {
	events chan func()
}

// New constructs a loop with the given posting backlog capacity.
func New(backlog int) *Loop {
	if backlog <= 0 {
		backlog = 64
	}
	return &Loop{events: make(chan func(), backlog)}
}

// Post enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including from within a callback already running on the loop.
func (l *Loop) Post(fn func()) {
	if l == nil || fn == nil {
		return
	}
	l.events <- fn
}

// Run drains posted callbacks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.events:
			fn()
		}
	}
}

// NewTimer constructs a ports.Timer whose callback is always dispatched
// through this loop, never directly from the underlying time.Timer
// goroutine.
func (l *Loop) NewTimer() ports.Timer {
	return &timer{loop: l}
}

type timer struct {
	loop *Loop

	mu      sync.Mutex
	fn      func()
	last    time.Duration
	pending *time.Timer
	expired bool
}

func (t *timer) Set(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.Stop()
	}
	t.fn = fn
	t.last = d
	t.expired = false
	t.pending = time.AfterFunc(d, t.fire)
}

func (t *timer) fire() {
	t.mu.Lock()
	t.expired = true
	fn := t.fn
	t.mu.Unlock()
	if fn != nil {
		t.loop.Post(fn)
	}
}

func (t *timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.Stop()
	}
}

func (t *timer) Restart(d time.Duration) {
	t.mu.Lock()
	fn := t.fn
	t.mu.Unlock()
	t.Set(d, fn)
}

func (t *timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}
