// Package subnet implements the routing and subscription-propagation layer
// (§4.3): sink and neighbour tables, multi-path next-hop selection,
// subscribe/unsubscribe/leaving/ask/reply/publish packet handling, and the
// per-sink outgoing fragment buffer. It is the largest layer in the stack,
// calling up into Pubsub through Callbacks to query and mutate subscription
// existance, and up into the publisher/subscriber roles through OnData and
// ErrPub for delivered data and exhausted retries.
package subnet

import (
	"context"
	"fmt"
	"time"

	"meshnet/internal/adisclose"
	"meshnet/internal/clock"
	"meshnet/internal/config"
	"meshnet/internal/existance"
	"meshnet/internal/logging"
	"meshnet/internal/metrics"
	"meshnet/internal/ports"
	"meshnet/internal/wire"
)

// Callbacks are the events Subnet calls upward: the subscription-existance
// contract Pubsub implements (Query/Subscribe/Unsubscribe/Inform/SinkLeft),
// plus the application-facing data and error events (OnData/ErrPub) the
// publisher and subscriber roles consume directly.
type Callbacks struct {
	// Query reports the current existance state of (sink, subid), used to
	// decide whether a heard SUBSCRIBE/UNSUBSCRIBE or an ASK's revoked/
	// unknown lists represent a change.
	Query func(sink wire.Addr, subid wire.SubID) existance.State
	// Subscribe installs or refreshes a subscription record.
	Subscribe func(sink wire.Addr, subid wire.SubID, payload []byte)
	// Unsubscribe marks a subscription revoked.
	Unsubscribe func(sink wire.Addr, subid wire.SubID)
	// Inform serializes the subscription record for subid into a REPLY
	// fragment payload no larger than space; ok is false if absent or if it
	// would not fit.
	Inform func(sink wire.Addr, subid wire.SubID, space int) (payload []byte, ok bool)
	// SinkLeft marks every subscription under sink REVOKED.
	SinkLeft func(sink wire.Addr)
	// OnData delivers one received or replayed data fragment upstream.
	OnData func(sink wire.Addr, subid wire.SubID, payload []byte)
	// ErrPub reports that a publish exhausted every alternate next hop.
	ErrPub func(sink wire.Addr)
}

type neighborRef struct {
	index int
	gen   uint32
}

type routeHop struct {
	ref  neighborRef
	cost int
}

// Sink is one sink-routing table entry (§3).
type Sink struct {
	used           bool
	addr           wire.Addr
	advertisedCost int
	nextHops       []routeHop
	fragments      []wire.Fragment
	revoked        existance.Revocation
}

// Neighbor is one neighbour-table entry (§3).
type Neighbor struct {
	used       bool
	addr       wire.Addr
	lastActive time.Time
	gen        uint32
}

type inFlight struct {
	sinkIdx   int
	fragments []wire.Fragment
	hop       neighborRef
}

// Conn is an open Subnet instance: one node's view of the mesh.
//
// It is not safe for concurrent use. Like every other layer, it is driven
// from a single taskloop goroutine -- the cooperative scheduling model
// (§5) is what lets it get away with no internal locking.
type Conn struct {
	self    wire.Addr
	cfg     config.Config
	clock   clock.Clock
	log     *logging.Logger
	metrics *metrics.Counters
	cb      Callbacks

	pubsub *adisclose.Conn
	peer   *adisclose.Conn

	sinks     []Sink
	neighbors []Neighbor

	writeoutActive  int
	writeoutScratch []wire.Fragment

	inFlight *inFlight
}

// Open wires a Subnet instance onto two ADisclose connections sharing one
// radio: one for SUBSCRIBE/UNSUBSCRIBE/LEAVING/PUBLISH traffic, one for the
// ASK/REPLY peer-clarification channel. newTimer is called twice, once per
// connection's ACK timeout.
func Open(radio ports.Radio, pubsubChannel, peerChannel uint16, self wire.Addr, newTimer func() ports.Timer, cfg config.Config, clk clock.Clock, log *logging.Logger, m *metrics.Counters, cb Callbacks) (*Conn, error) {
	c := &Conn{
		self:           self,
		cfg:            cfg,
		clock:          clk,
		log:            log,
		metrics:        m,
		cb:             cb,
		sinks:          make([]Sink, cfg.MaxSinks),
		neighbors:      make([]Neighbor, cfg.MaxNeighbors),
		writeoutActive: -1,
	}

	pubsubConn, err := adisclose.Open(radio, pubsubChannel, self, newTimer(), cfg.ADiscloseTimeout, cfg.AckBits, adisclose.Callbacks{
		Recv:     c.onPubsubRecv,
		Hear:     c.onPubsubHear,
		Sent:     c.onPubsubSent,
		TimedOut: c.onPubsubTimedOut,
	})
	if err != nil {
		return nil, fmt.Errorf("subnet: open pubsub channel: %w", err)
	}
	peerConn, err := adisclose.Open(radio, peerChannel, self, newTimer(), cfg.ADiscloseTimeout, cfg.AckBits, adisclose.Callbacks{
		Recv: c.onPeerRecv,
		Hear: c.onPeerHear,
	})
	if err != nil {
		return nil, fmt.Errorf("subnet: open peer channel: %w", err)
	}

	c.pubsub = pubsubConn
	c.peer = peerConn
	return c, nil
}

// Self returns this node's address.
func (c *Conn) Self() wire.Addr { return c.self }

// Close emits LEAVING for the local sink, telling every neighbour this
// node's subscriptions are gone for good.
func (c *Conn) Close() error {
	return c.rebroadcastLeaving(c.self)
}

// Subscribe (re)announces a subscription for the local sink (§4.3
// subnet_subscribe/subnet_resubscribe): this node is sink c.Self(), with
// advertised cost 0. A subid not yet known locally is routed through
// handleSubscriptionFragments exactly as a heard SUBSCRIBE would be, so
// Pubsub's Subscribe callback fires for our own subscriptions too; a subid
// already known -- the subscriber role's periodic resend -- just rebroadcasts
// without re-invoking the callback for unchanged data.
func (c *Conn) Subscribe(subid wire.SubID, payload []byte) error {
	if c.cb.Query != nil && c.cb.Query(c.self, subid) != existance.Unknown {
		c.updateRoute(c.self, wire.NullAddr, 0)
		return c.broadcastSubscriptionFragment(c.self, wire.PacketSubscribe, 0, wire.Fragment{SubID: subid, Payload: payload})
	}
	c.handleSubscriptionFragments(wire.NullAddr, c.self, 0, wire.PacketSubscribe, []wire.Fragment{{SubID: subid, Payload: payload}})
	return nil
}

// Unsubscribe ends a locally originated subscription (§4.3 subnet_unsubscribe).
// A still-known subid is routed through handleSubscriptionFragments so Pubsub's
// Unsubscribe callback fires for it like any heard UNSUBSCRIBE; anything else
// (already revoked, or never known here) just rebroadcasts the echo once more
// without re-triggering the callback.
func (c *Conn) Unsubscribe(subid wire.SubID) error {
	if c.cb.Query != nil && c.cb.Query(c.self, subid) == existance.Known {
		c.handleSubscriptionFragments(wire.NullAddr, c.self, 0, wire.PacketUnsubscribe, []wire.Fragment{{SubID: subid}})
		return nil
	}
	return c.broadcastSubscriptionFragment(c.self, wire.PacketUnsubscribe, 0, wire.Fragment{SubID: subid})
}

func (c *Conn) broadcastSubscriptionFragment(sinkAddr wire.Addr, ptype wire.PacketType, hops int, frag wire.Fragment) error {
	return c.rebroadcastSubscription(sinkAddr, ptype, hops, []wire.Fragment{frag})
}

func (c *Conn) rebroadcastSubscription(sinkAddr wire.Addr, ptype wire.PacketType, hops int, frags []wire.Fragment) error {
	payload, err := wire.EncodeFragments(frags)
	if err != nil {
		return fmt.Errorf("subnet: encode %v fragments: %w", ptype, err)
	}
	frame := ports.Frame{
		Attrs: wire.Attrs{Sink: sinkAddr, Type: ptype, Fragments: len(frags), Hops: hops},
		Payload: payload,
	}
	return c.pubsub.Broadcast(context.Background(), frame)
}

func (c *Conn) rebroadcastLeaving(sinkAddr wire.Addr) error {
	frame := ports.Frame{Attrs: wire.Attrs{Sink: sinkAddr, Type: wire.PacketLeaving}}
	return c.pubsub.Broadcast(context.Background(), frame)
}
