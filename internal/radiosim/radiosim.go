// Package radiosim is an in-memory ports.Radio used by tests and the demo
// binary (cmd/meshnoded) to run several mesh nodes in one process without a
// real radio driver. It is shipped as an importable package rather than
// kept inside _test.go files, following the teacher's
// internal/websockettest pattern of a reusable in-process test transport.
package radiosim

import (
	"context"
	"math/rand"
	"sync"

	"meshnet/internal/ports"
	"meshnet/internal/wire"
)

// Medium is a shared broadcast domain: every Radio created from the same
// Medium can hear every other Radio's broadcasts, optionally subject to a
// per-delivery drop probability used to simulate lossy links.
type Medium struct {
	mu       sync.Mutex
	links    map[uint16]map[wire.Addr]ports.RecvFunc
	dropRate float64
	rng      *rand.Rand
}

// NewMedium constructs an empty, lossless shared medium.
func NewMedium() *Medium {
	return &Medium{
		links: make(map[uint16]map[wire.Addr]ports.RecvFunc),
		rng:   rand.New(rand.NewSource(1)),
	}
}

// WithDropRate configures an independent per-recipient drop probability in
// [0,1]; it mutates and returns the medium for chaining at construction.
func (m *Medium) WithDropRate(p float64) *Medium {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRate = p
	return m
}

// NewRadio returns a ports.Radio for the given node address, backed by this
// medium.
func (m *Medium) NewRadio(self wire.Addr) *Radio {
	return &Radio{medium: m, self: self}
}

func (m *Medium) register(channel uint16, self wire.Addr, onFrame ports.RecvFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[channel] == nil {
		m.links[channel] = make(map[wire.Addr]ports.RecvFunc)
	}
	m.links[channel][self] = onFrame
}

func (m *Medium) deliver(channel uint16, from wire.Addr, frame ports.Frame) {
	m.mu.Lock()
	recipients := make(map[wire.Addr]ports.RecvFunc, len(m.links[channel]))
	for addr, fn := range m.links[channel] {
		if addr == from {
			continue
		}
		recipients[addr] = fn
	}
	dropRate := m.dropRate
	rng := m.rng
	m.mu.Unlock()

	for _, onFrame := range recipients {
		if dropRate > 0 {
			m.mu.Lock()
			drop := rng.Float64() < dropRate
			m.mu.Unlock()
			if drop {
				continue
			}
		}
		onFrame(from, frame.Clone())
	}
}

// Radio is a single node's view of a Medium.
type Radio struct {
	medium *Medium
	self   wire.Addr
}

// Open registers the node on a channel.
func (r *Radio) Open(channel uint16, self wire.Addr, onFrame ports.RecvFunc) error {
	r.self = self
	r.medium.register(channel, self, onFrame)
	return nil
}

// Broadcast delivers the frame to every other node registered on the
// channel and immediately reports success, since the in-memory medium never
// fails to physically transmit (drops, if configured, happen per recipient
// to simulate a lossy link, not a failed radio).
func (r *Radio) Broadcast(ctx context.Context, channel uint16, frame ports.Frame, sent ports.SentFunc) error {
	r.medium.deliver(channel, r.self, frame)
	if sent != nil {
		sent(ports.TxOK)
	}
	return nil
}
