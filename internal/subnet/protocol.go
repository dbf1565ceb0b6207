package subnet

import (
	"context"

	"meshnet/internal/existance"
	"meshnet/internal/logging"
	"meshnet/internal/ports"
	"meshnet/internal/wire"
)

func (c *Conn) onPubsubRecv(from wire.Addr, frame ports.Frame) {
	if frame.Attrs.Type != wire.PacketPublish {
		return
	}
	c.updateRoute(frame.Attrs.Sink, from, frame.Attrs.Hops)
	frags, err := wire.DecodeFragments(frame.Payload)
	if err != nil {
		if c.log != nil {
			c.log.Warn("malformed publish payload", logging.String("sink", frame.Attrs.Sink.String()), logging.Error(err))
		}
		return
	}
	for _, frag := range frags {
		if c.cb.OnData != nil {
			c.cb.OnData(frame.Attrs.Sink, frag.SubID, frag.Payload)
		}
	}
}

func (c *Conn) onPubsubHear(from wire.Addr, frame ports.Frame) {
	switch frame.Attrs.Type {
	case wire.PacketSubscribe, wire.PacketUnsubscribe:
		frags, err := wire.DecodeFragments(frame.Payload)
		if err != nil {
			if c.log != nil {
				c.log.Warn("malformed subscription payload", logging.Error(err))
			}
			return
		}
		c.handleSubscriptionFragments(from, frame.Attrs.Sink, frame.Attrs.Hops, frame.Attrs.Type, frags)
	case wire.PacketLeaving:
		c.handleLeaving(frame.Attrs.Sink)
	case wire.PacketPublish:
		frags, err := wire.DecodeFragments(frame.Payload)
		if err != nil {
			return
		}
		c.handleOverheardPublish(from, frame.Attrs.Sink, frame.Attrs.Hops, frags)
	}
}

// handleSubscriptionFragments implements handle_subscriptions (§4.3): it
// updates routing, invokes Subscribe/Unsubscribe for each fragment that
// represents new information, then rebroadcasts the packet once if any
// fragment did. The callbacks run first so that the synchronous echo of the
// rebroadcast already finds every fragment known and is not flooded again.
func (c *Conn) handleSubscriptionFragments(from wire.Addr, sinkAddr wire.Addr, hops int, ptype wire.PacketType, frags []wire.Fragment) {
	sink := c.updateRoute(sinkAddr, from, hops)
	if sink == nil {
		return
	}

	var changed []wire.Fragment
	for _, frag := range frags {
		state := existance.Unknown
		if c.cb.Query != nil {
			state = c.cb.Query(sinkAddr, frag.SubID)
		}
		switch ptype {
		case wire.PacketSubscribe:
			if state != existance.Known {
				changed = append(changed, frag)
			}
		case wire.PacketUnsubscribe:
			if state == existance.Known {
				changed = append(changed, frag)
			}
		}
	}
	if len(changed) == 0 {
		return
	}

	for _, frag := range changed {
		switch ptype {
		case wire.PacketSubscribe:
			if c.cb.Subscribe != nil {
				c.cb.Subscribe(sinkAddr, frag.SubID, frag.Payload)
			}
		case wire.PacketUnsubscribe:
			if c.cb.Unsubscribe != nil {
				c.cb.Unsubscribe(sinkAddr, frag.SubID)
			}
		}
	}
	if err := c.rebroadcastSubscription(sinkAddr, ptype, sink.advertisedCost, frags); err != nil {
		if c.log != nil {
			c.log.Warn("rebroadcast failed", logging.String("sink", sinkAddr.String()), logging.Error(err))
		}
	}
}

func (c *Conn) handleLeaving(sinkAddr wire.Addr) {
	idx := c.findSinkIndex(sinkAddr)
	if idx < 0 {
		return
	}
	// Already revoked: this LEAVING is an echo of one we ourselves already
	// processed and rebroadcast. Absorb it instead of reflooding forever.
	if c.sinks[idx].revoked.State(c.clock.Now(), c.cfg.RevokePeriod) == existance.Revoked {
		return
	}
	c.sinks[idx].revoked = existance.RevokedAt(c.clock.Now())
	c.sinks[idx].nextHops = nil
	if c.cb.SinkLeft != nil {
		c.cb.SinkLeft(sinkAddr)
	}
	if c.metrics != nil {
		c.metrics.IncSinkLeft()
	}
	if err := c.rebroadcastLeaving(sinkAddr); err != nil && c.log != nil {
		c.log.Warn("rebroadcast leaving failed", logging.String("sink", sinkAddr.String()), logging.Error(err))
	}
}

// handleOverheardPublish implements the Ask side of the Ask/Reply protocol
// (§4.3): a heard PUBLISH referencing subids this node doesn't recognize,
// or believes revoked, triggers a clarification request to the sender.
func (c *Conn) handleOverheardPublish(from wire.Addr, sinkAddr wire.Addr, hops int, frags []wire.Fragment) {
	c.updateRoute(sinkAddr, from, hops)

	var revoked, unknown []wire.SubID
	for _, frag := range frags {
		if c.cb.Query == nil {
			continue
		}
		switch c.cb.Query(sinkAddr, frag.SubID) {
		case existance.Unknown:
			unknown = append(unknown, frag.SubID)
		case existance.Revoked:
			revoked = append(revoked, frag.SubID)
		}
	}
	if len(revoked) == 0 && len(unknown) == 0 {
		return
	}

	payload, err := wire.EncodePeerPacket(wire.PeerPacket{Revoked: revoked, Unknown: unknown})
	if err != nil {
		if c.log != nil {
			c.log.Warn("encode ask failed", logging.Error(err))
		}
		return
	}
	frame := ports.Frame{Attrs: wire.Attrs{Sink: sinkAddr, Type: wire.PacketAsk}, Payload: payload}
	ok, err := c.peer.Send(context.Background(), from, frame)
	if err != nil {
		if c.log != nil {
			c.log.Warn("send ask failed", logging.Error(err))
		}
		return
	}
	if ok && c.metrics != nil {
		c.metrics.IncAskSent()
	}
}

func (c *Conn) onPeerRecv(from wire.Addr, frame ports.Frame) {
	switch frame.Attrs.Type {
	case wire.PacketAsk:
		if c.metrics != nil {
			c.metrics.IncAskRecv()
		}
		c.handleAsk(from, frame.Attrs.Sink, frame.Payload)
	case wire.PacketReply:
		if c.metrics != nil {
			c.metrics.IncReplyRecv()
		}
		frags, err := wire.DecodeFragments(frame.Payload)
		if err != nil {
			if c.log != nil {
				c.log.Warn("malformed reply payload", logging.Error(err))
			}
			return
		}
		// A REPLY carries subscription records exactly like a SUBSCRIBE
		// packet, so it is fed through the same propagation path.
		c.handleSubscriptionFragments(from, frame.Attrs.Sink, frame.Attrs.Hops, wire.PacketSubscribe, frags)
	}
}

func (c *Conn) onPeerHear(wire.Addr, ports.Frame) {
	// ASK/REPLY are addressed clarification traffic; nothing to learn
	// from overhearing someone else's.
}

// handleAsk implements the Ask recipient's side (§4.3): revoked subids the
// asker named are believed stale here too get surfaced as Unsubscribe; if
// this node's own record of the sink is revoked, it replies with LEAVING
// instead. Otherwise it answers the unknown subids it can with a REPLY.
func (c *Conn) handleAsk(from wire.Addr, sinkAddr wire.Addr, payload []byte) {
	pp, err := wire.DecodePeerPacket(payload)
	if err != nil {
		if c.log != nil {
			c.log.Warn("malformed ask payload", logging.Error(err))
		}
		return
	}

	for _, subid := range pp.Revoked {
		if c.cb.Query != nil && c.cb.Query(sinkAddr, subid) == existance.Known {
			if c.cb.Unsubscribe != nil {
				c.cb.Unsubscribe(sinkAddr, subid)
			}
		}
	}

	if idx := c.findSinkIndex(sinkAddr); idx >= 0 {
		if c.sinks[idx].revoked.State(c.clock.Now(), c.cfg.RevokePeriod) == existance.Revoked {
			if err := c.rebroadcastLeaving(sinkAddr); err != nil && c.log != nil {
				c.log.Warn("rebroadcast leaving failed", logging.Error(err))
			}
			return
		}
	}

	if len(pp.Unknown) == 0 || c.cb.Inform == nil {
		return
	}
	var frags []wire.Fragment
	for _, subid := range pp.Unknown {
		data, ok := c.cb.Inform(sinkAddr, subid, c.cfg.PacketbufSize)
		if !ok {
			continue
		}
		frags = append(frags, wire.Fragment{SubID: subid, Payload: data})
	}
	if len(frags) == 0 {
		return
	}
	replyPayload, err := wire.EncodeFragments(frags)
	if err != nil {
		if c.log != nil {
			c.log.Warn("encode reply failed", logging.Error(err))
		}
		return
	}
	cost := 0
	if idx := c.findSinkIndex(sinkAddr); idx >= 0 {
		cost = c.sinks[idx].advertisedCost
	}
	frame := ports.Frame{
		Attrs:   wire.Attrs{Sink: sinkAddr, Type: wire.PacketReply, Fragments: len(frags), Hops: cost},
		Payload: replyPayload,
	}
	ok, err := c.peer.Send(context.Background(), from, frame)
	if err != nil {
		if c.log != nil {
			c.log.Warn("send reply failed", logging.Error(err))
		}
		return
	}
	if ok && c.metrics != nil {
		c.metrics.IncReplySent()
	}
}
