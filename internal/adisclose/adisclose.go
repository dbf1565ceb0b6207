// Package adisclose implements acknowledged disclosed unicast (§4.2): a
// single transmission to a named receiver that only reports success once an
// ACK is seen. Unlike a stubborn retransmission primitive, a failed
// transmission is not retried here -- the caller (Subnet) decides whether
// and when to try again.
package adisclose

import (
	"context"
	"time"

	"meshnet/internal/disclose"
	"meshnet/internal/ports"
	"meshnet/internal/wire"
)

// Callbacks are the four events an ADisclose connection reports.
type Callbacks struct {
	// Recv fires for an addressed DATA frame, after its ACK has been sent.
	Recv func(from wire.Addr, frame ports.Frame)
	// Sent fires once the ACK for an outstanding send has arrived.
	Sent func(to wire.Addr)
	// TimedOut fires when no ACK arrives before the timeout.
	TimedOut func(to wire.Addr)
	// Hear fires for an overheard DATA frame; ACKs are never surfaced here.
	Hear func(from wire.Addr, frame ports.Frame)
}

// Conn is an open acknowledged-unicast connection layered on a Disclose
// connection. It is not safe for concurrent use -- like the rest of the
// stack, it is meant to be driven from a single taskloop goroutine.
type Conn struct {
	lower   *disclose.Conn
	timer   ports.Timer
	timeout time.Duration
	ackBits uint
	cb      Callbacks

	sndnxt   uint8
	isTX     bool
	failed   bool
	receiver wire.Addr
}

// Open opens the underlying Disclose connection and layers ACK sequencing
// on top of it.
func Open(radio ports.Radio, channel uint16, self wire.Addr, timer ports.Timer, timeout time.Duration, ackBits uint, cb Callbacks) (*Conn, error) {
	c := &Conn{timer: timer, timeout: timeout, ackBits: ackBits, cb: cb}
	lower, err := disclose.Open(radio, channel, self, disclose.Callbacks{
		Recv: c.onRecv,
		Hear: c.onHear,
	})
	if err != nil {
		return nil, err
	}
	c.lower = lower
	return c, nil
}

func (c *Conn) seqSpace() uint8 {
	return uint8(1) << c.ackBits
}

func (c *Conn) onRecv(from wire.Addr, frame ports.Frame) {
	if frame.Ack {
		if frame.Seq != c.sndnxt {
			return // stale or misdirected ACK, ignore
		}
		c.timer.Stop()
		if c.failed {
			// The timeout already fired and told the caller this send
			// failed; this ACK arrived too late to take back.
			return
		}
		c.sndnxt = (c.sndnxt + 1) % c.seqSpace()
		c.isTX = false
		if c.cb.Sent != nil {
			c.cb.Sent(c.receiver)
		}
		return
	}

	seq := frame.Seq
	ack := ports.Frame{Ack: true, Seq: seq}
	// Best-effort: a failed ACK send just means the sender will time out
	// and the caller decides whether to retry, same as the original.
	_ = c.lower.Send(context.Background(), from, ack)

	if c.cb.Recv != nil {
		c.cb.Recv(from, frame)
	}
}

func (c *Conn) onHear(from wire.Addr, frame ports.Frame) {
	if frame.Ack {
		return
	}
	if c.cb.Hear != nil {
		c.cb.Hear(from, frame)
	}
}

func (c *Conn) onTimeout() {
	c.failed = true
	c.isTX = false
	c.sndnxt = (c.sndnxt + 1) % c.seqSpace()
	if c.cb.TimedOut != nil {
		c.cb.TimedOut(c.receiver)
	}
}

// Send transmits frame to receiver and arms the ACK timeout. It reports
// false, without touching the network, if a previous send is still
// outstanding -- this primitive sends exactly one transmission per call and
// never queues.
func (c *Conn) Send(ctx context.Context, receiver wire.Addr, frame ports.Frame) (bool, error) {
	if c.isTX {
		return false, nil
	}

	c.receiver = receiver
	c.failed = false
	frame.Ack = false
	frame.Seq = c.sndnxt
	c.isTX = true
	c.timer.Set(c.timeout, c.onTimeout)

	if err := c.lower.Send(ctx, receiver, frame); err != nil {
		c.timer.Stop()
		c.isTX = false
		c.failed = false
		return false, err
	}
	return true, nil
}

// Broadcast sends frame via the underlying Disclose connection directly,
// bypassing ADisclose's sequencing and ACK wait entirely. This is for flood
// traffic (SUBSCRIBE/UNSUBSCRIBE/LEAVING) where nobody in particular is
// expected to ACK. It mirrors the original stack's broadcast() helper,
// which reaches through an adisclose_conn to its embedded disclose_conn and
// calls disclose_send() "since this is a broadcast and we don't want to
// wait for ACKs".
func (c *Conn) Broadcast(ctx context.Context, frame ports.Frame) error {
	frame.Ack = false
	return c.lower.Send(ctx, wire.NullAddr, frame)
}

// IsTransmitting reports whether a Send is still awaiting its ACK or
// timeout.
func (c *Conn) IsTransmitting() bool { return c.isTX }

// Self returns the node address this connection was opened with.
func (c *Conn) Self() wire.Addr { return c.lower.Self() }
