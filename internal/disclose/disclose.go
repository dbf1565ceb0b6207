// Package disclose implements the broadcast-with-hear/recv-split primitive
// (§4.1): every physically received frame is delivered to Recv if it is
// addressed to this node, or to Hear otherwise, so that a single wire
// format serves both addressed delivery and passive overhearing (subnet
// needs both: routing and subscription snooping ride on Hear, data delivery
// and ACKs ride on Recv).
package disclose

import (
	"context"

	"meshnet/internal/ports"
	"meshnet/internal/wire"
)

// Callbacks are the three events a Disclose connection reports.
type Callbacks struct {
	// Recv fires when a frame addressed to this node arrives.
	Recv func(from wire.Addr, frame ports.Frame)
	// Hear fires when a frame addressed to someone else is overheard.
	Hear func(from wire.Addr, frame ports.Frame)
	// Sent fires once the radio reports the outcome of a transmission.
	Sent func(status ports.TxStatus)
}

// Conn is an open Disclose connection on one channel.
type Conn struct {
	radio   ports.Radio
	channel uint16
	self    wire.Addr
	cb      Callbacks
}

// Open registers callbacks on a broadcast channel.
func Open(radio ports.Radio, channel uint16, self wire.Addr, cb Callbacks) (*Conn, error) {
	c := &Conn{radio: radio, channel: channel, self: self, cb: cb}
	if err := radio.Open(channel, self, c.onFrame); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) onFrame(from wire.Addr, frame ports.Frame) {
	if frame.Receiver == c.self {
		if c.cb.Recv != nil {
			c.cb.Recv(from, frame)
		}
		return
	}
	if c.cb.Hear != nil {
		c.cb.Hear(from, frame)
	}
}

// Send transmits frame, stamping its receiver attribute. Passing
// wire.NullAddr as receiver is pure broadcast: every listener's Hear fires
// and none treats the frame as addressed to it.
func (c *Conn) Send(ctx context.Context, receiver wire.Addr, frame ports.Frame) error {
	frame.Receiver = receiver
	return c.radio.Broadcast(ctx, c.channel, frame, c.cb.Sent)
}

// Self returns the node address this connection was opened with.
func (c *Conn) Self() wire.Addr { return c.self }
