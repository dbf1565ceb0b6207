// Package metrics counts the protocol-level events the spec calls out as
// "surfaced" (§7): errpub, sink-left, ask/reply traffic, and table eviction
// pressure. It is a small atomic-counter struct exposing a Snapshot, the
// same shape the teacher's own ambient metrics package uses for its
// counters, kept on the standard library rather than pulled up to a
// server-scale metrics client for a handful of protocol counters.
package metrics

import "sync/atomic"

// Counters tracks mesh-protocol events for one node. The zero value is
// ready to use.
type Counters struct {
	errpub     atomic.Uint64
	sinkLeft   atomic.Uint64
	askSent    atomic.Uint64
	askRecv    atomic.Uint64
	replySent  atomic.Uint64
	replyRecv  atomic.Uint64
	sinkEvict  atomic.Uint64
	neighEvict atomic.Uint64
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	ErrPub          uint64
	SinkLeft        uint64
	AskSent         uint64
	AskRecv         uint64
	ReplySent       uint64
	ReplyRecv       uint64
	SinkEvictions   uint64
	NeighborEvicted uint64
}

func (c *Counters) IncErrPub()          { c.errpub.Add(1) }
func (c *Counters) IncSinkLeft()        { c.sinkLeft.Add(1) }
func (c *Counters) IncAskSent()         { c.askSent.Add(1) }
func (c *Counters) IncAskRecv()         { c.askRecv.Add(1) }
func (c *Counters) IncReplySent()       { c.replySent.Add(1) }
func (c *Counters) IncReplyRecv()       { c.replyRecv.Add(1) }
func (c *Counters) IncSinkEviction()    { c.sinkEvict.Add(1) }
func (c *Counters) IncNeighborEviction() { c.neighEvict.Add(1) }

// Snapshot returns a consistent-enough point-in-time read of every
// counter; individual fields may be torn under concurrent increments, but
// the cooperative single-task model means increments only ever happen from
// the taskloop goroutine.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ErrPub:          c.errpub.Load(),
		SinkLeft:        c.sinkLeft.Load(),
		AskSent:         c.askSent.Load(),
		AskRecv:         c.askRecv.Load(),
		ReplySent:       c.replySent.Load(),
		ReplyRecv:       c.replyRecv.Load(),
		SinkEvictions:   c.sinkEvict.Load(),
		NeighborEvicted: c.neighEvict.Load(),
	}
}
