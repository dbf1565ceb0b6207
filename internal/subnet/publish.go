package subnet

import (
	"context"
	"fmt"

	"meshnet/internal/logging"
	"meshnet/internal/ports"
	"meshnet/internal/wire"
)

func fragmentsLen(frags []wire.Fragment) int {
	n := 0
	for _, f := range frags {
		n += f.EncodedSize()
	}
	return n
}

// AddData appends one fragment to a sink's outgoing buffer, or to the
// writeout scratch if this sink is currently in writeout mode (§4.3
// subnet_add_data). It reports false if the addition would exceed the
// configured packet size.
func (c *Conn) AddData(sinkAddr wire.Addr, subid wire.SubID, payload []byte) bool {
	idx := c.findSinkIndex(sinkAddr)
	if idx < 0 {
		return false
	}
	frag := wire.Fragment{SubID: subid, Payload: payload}

	if c.writeoutActive == idx {
		if fragmentsLen(c.writeoutScratch)+frag.EncodedSize() > c.cfg.PacketbufSize {
			return false
		}
		c.writeoutScratch = append(c.writeoutScratch, frag)
		return true
	}

	sink := &c.sinks[idx]
	if fragmentsLen(sink.fragments)+frag.EncodedSize() > c.cfg.PacketbufSize {
		return false
	}
	sink.fragments = append(sink.fragments, frag)
	return true
}

// SinkFragments returns a copy of a sink's current outgoing buffer, e.g.
// for an aggregator reading the prior contents before replacing them via
// Writeout/Writein.
func (c *Conn) SinkFragments(sinkAddr wire.Addr) []wire.Fragment {
	idx := c.findSinkIndex(sinkAddr)
	if idx < 0 {
		return nil
	}
	return append([]wire.Fragment(nil), c.sinks[idx].fragments...)
}

// Writeout begins scratch-accumulation for one sink (§4.3). Only one sink
// may be in writeout mode at a time; it reports false if another is
// already active or the sink is unknown.
func (c *Conn) Writeout(sinkAddr wire.Addr) bool {
	if c.writeoutActive >= 0 {
		return false
	}
	idx := c.findSinkIndex(sinkAddr)
	if idx < 0 {
		return false
	}
	c.writeoutActive = idx
	c.writeoutScratch = nil
	return true
}

// Writein commits the writeout scratch back into the sink's real buffer,
// replacing its prior contents -- the scratch is meant to hold the result
// of re-aggregating the sink's data, not an addition to it. It is a no-op
// if no sink is currently in writeout mode.
func (c *Conn) Writein() {
	if c.writeoutActive < 0 {
		return
	}
	c.sinks[c.writeoutActive].fragments = c.writeoutScratch
	c.writeoutActive = -1
	c.writeoutScratch = nil
}

// Publish sends a sink's buffered fragments toward the sink (§4.3 publish).
// It reports false without error if the buffer is empty or a previous
// publish is still in flight.
func (c *Conn) Publish(sinkAddr wire.Addr) (bool, error) {
	idx := c.findSinkIndex(sinkAddr)
	if idx < 0 {
		return false, fmt.Errorf("subnet: publish: unknown sink %s", sinkAddr)
	}
	if c.pubsub.IsTransmitting() {
		return false, nil
	}
	sink := &c.sinks[idx]
	if len(sink.fragments) == 0 {
		return false, nil
	}
	fragments := sink.fragments
	sink.fragments = nil
	return c.attemptPublish(idx, fragments, nil)
}

func (c *Conn) attemptPublish(sinkIdx int, fragments []wire.Fragment, prevHop *neighborRef) (bool, error) {
	sink := &c.sinks[sinkIdx]
	hop, ok := c.nextHop(sink, prevHop)
	if !ok {
		c.exhaustPublish(sink, fragments)
		return false, nil
	}
	nextHopAddr, ok := c.neighborAddr(hop)
	if !ok {
		c.exhaustPublish(sink, fragments)
		return false, nil
	}

	payload, err := wire.EncodeFragments(fragments)
	if err != nil {
		return false, fmt.Errorf("subnet: encode publish: %w", err)
	}
	frame := ports.Frame{
		Attrs:   wire.Attrs{Sink: sink.addr, Type: wire.PacketPublish, Fragments: len(fragments), Hops: sink.advertisedCost},
		Payload: payload,
	}
	sent, err := c.pubsub.Send(context.Background(), nextHopAddr, frame)
	if err != nil {
		return false, fmt.Errorf("subnet: send publish: %w", err)
	}
	if !sent {
		return false, nil
	}
	c.inFlight = &inFlight{sinkIdx: sinkIdx, fragments: fragments, hop: hop}
	return true, nil
}

// exhaustPublish replays fragments into OnData for the caller to retry
// upstream and surfaces ErrPub, per the "exhausted alternates" edge case
// (§8).
func (c *Conn) exhaustPublish(sink *Sink, fragments []wire.Fragment) {
	for _, f := range fragments {
		if c.cb.OnData != nil {
			c.cb.OnData(sink.addr, f.SubID, f.Payload)
		}
	}
	if c.cb.ErrPub != nil {
		c.cb.ErrPub(sink.addr)
	}
	if c.metrics != nil {
		c.metrics.IncErrPub()
	}
}

func (c *Conn) onPubsubSent(wire.Addr) {
	c.inFlight = nil
}

func (c *Conn) onPubsubTimedOut(wire.Addr) {
	fi := c.inFlight
	c.inFlight = nil
	if fi == nil {
		return
	}
	prevHop := fi.hop
	if _, err := c.attemptPublish(fi.sinkIdx, fi.fragments, &prevHop); err != nil && c.log != nil {
		c.log.Error("retry publish failed", logging.String("sink", c.sinks[fi.sinkIdx].addr.String()), logging.Error(err))
	}
}
