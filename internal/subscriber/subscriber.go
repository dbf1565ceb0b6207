// Package subscriber implements the subscriber role (§4.6): per-subid
// resubscribe timers ensuring nodes that missed the original flood
// eventually hear it, and the demux that only surfaces data addressed to
// this node's own sink to the application.
package subscriber

import (
	"fmt"

	"meshnet/internal/config"
	"meshnet/internal/logging"
	"meshnet/internal/ports"
	"meshnet/internal/subnet"
	"meshnet/internal/wire"
)

// Callbacks are the application-facing events a subscriber node reacts to.
type Callbacks struct {
	// OnReading delivers one reading for a locally originated subscription.
	OnReading func(subid wire.SubID, reading wire.Reading)
}

// Role is one node's subscriber state: it owns subid assignment and the
// resubscribe timer loop for every subscription this node has installed.
//
// Like every other layer, it assumes single-goroutine cooperative
// scheduling (§5): no internal locking.
type Role struct {
	cfg      config.Config
	log      *logging.Logger
	cb       Callbacks
	newTimer func() ports.Timer

	subnetConn *subnet.Conn

	nextSubID     wire.SubID
	subscriptions map[wire.SubID]wire.Subscription
	resubscribe   map[wire.SubID]ports.Timer
}

// NewRole constructs a subscriber role. Attach must be called once the
// Subnet connection exists.
func NewRole(cfg config.Config, log *logging.Logger, newTimer func() ports.Timer, cb Callbacks) *Role {
	return &Role{
		cfg:           cfg,
		log:           log,
		cb:            cb,
		newTimer:      newTimer,
		subscriptions: map[wire.SubID]wire.Subscription{},
		resubscribe:   map[wire.SubID]ports.Timer{},
	}
}

// Attach wires the role to its Subnet connection.
func (r *Role) Attach(conn *subnet.Conn) { r.subnetConn = conn }

// SubnetCallbacks returns the subnet.Callbacks this role supplies: only the
// application data demux, since subscriber installs no subscription
// existance state of its own (that is Pubsub's job even for locally
// originated subscriptions, via Subnet.Subscribe's Query-gated routing).
func (r *Role) SubnetCallbacks() subnet.Callbacks {
	return subnet.Callbacks{OnData: r.onData}
}

// Subscribe installs a new subscription for this node's own sink (§4.6),
// assigning the next strictly monotone subid (§3) and arming its resubscribe
// timer.
func (r *Role) Subscribe(sub wire.Subscription) (wire.SubID, error) {
	subid := r.nextSubID
	if int(subid) >= r.cfg.MaxSubscriptions {
		return 0, fmt.Errorf("subscriber: subscription table full at subid %d", subid)
	}
	payload, err := wire.EncodeSubscription(sub)
	if err != nil {
		return 0, fmt.Errorf("subscriber: encode subscription: %w", err)
	}
	if err := r.subnetConn.Subscribe(subid, payload); err != nil {
		return 0, err
	}
	r.nextSubID++
	r.subscriptions[subid] = sub
	r.armResubscribe(subid)
	return subid, nil
}

// Unsubscribe stops subid's resubscribe timer and emits UNSUBSCRIBE (§4.6).
func (r *Role) Unsubscribe(subid wire.SubID) error {
	if timer, ok := r.resubscribe[subid]; ok {
		timer.Stop()
		delete(r.resubscribe, subid)
	}
	delete(r.subscriptions, subid)
	return r.subnetConn.Unsubscribe(subid)
}

// Subscription returns the record this node installed for subid, if any.
func (r *Role) Subscription(subid wire.SubID) (wire.Subscription, bool) {
	sub, ok := r.subscriptions[subid]
	return sub, ok
}

func (r *Role) armResubscribe(subid wire.SubID) {
	timer, ok := r.resubscribe[subid]
	if !ok {
		timer = r.newTimer()
		r.resubscribe[subid] = timer
	}
	timer.Set(r.cfg.ResendInterval, func() { r.onResubscribeTimerExpired(subid) })
}

func (r *Role) onResubscribeTimerExpired(subid wire.SubID) {
	sub, ok := r.subscriptions[subid]
	if !ok {
		return
	}
	payload, err := wire.EncodeSubscription(sub)
	if err != nil {
		if r.log != nil {
			r.log.Warn("resubscribe encode failed", logging.Uint8("subid", uint8(subid)), logging.Error(err))
		}
		return
	}
	if err := r.subnetConn.Subscribe(subid, payload); err != nil && r.log != nil {
		r.log.Warn("resubscribe failed", logging.Uint8("subid", uint8(subid)), logging.Error(err))
	}
	if timer, ok := r.resubscribe[subid]; ok {
		timer.Restart(r.cfg.ResendInterval)
	}
}

// onData demultiplexes incoming data: only subscriptions terminating at
// this node's own sink are surfaced to the application (§4.6).
func (r *Role) onData(sink wire.Addr, subid wire.SubID, payload []byte) {
	if sink != r.subnetConn.Self() || r.cb.OnReading == nil {
		return
	}
	reading, err := wire.DecodeReading(payload)
	if err != nil {
		if r.log != nil {
			r.log.Warn("malformed reading payload", logging.Uint8("subid", uint8(subid)), logging.Error(err))
		}
		return
	}
	r.cb.OnReading(subid, reading)
}
