// Package publisher implements the publisher role (§4.5): per-sensor
// collection timers, per-sink aggregation timers, hard/soft filter
// application, and forwarding of upstream data through this node's own
// aggregation buffer. It sits above Subnet and Pubsub, never owning their
// tables directly -- only calling into AddData/Writeout/Writein/Publish and
// reading Pubsub's subscription records.
package publisher

import (
	"time"

	"meshnet/internal/clock"
	"meshnet/internal/config"
	"meshnet/internal/filters"
	"meshnet/internal/logging"
	"meshnet/internal/metrics"
	"meshnet/internal/ports"
	"meshnet/internal/pubsub"
	"meshnet/internal/subnet"
	"meshnet/internal/wire"
)

// Callbacks are the application-facing events a publisher node reacts to.
type Callbacks struct {
	// OnCollect fires when a sensor's collection timer expires and at
	// least one KNOWN subscription wants it: the application should sample
	// the sensor and call Role.Publish with the result.
	OnCollect func(sensor wire.SensorType)
	// ErrPub reports a publish that exhausted every alternate next hop,
	// forwarded from Subnet.
	ErrPub func(sink wire.Addr)
}

// Role is one node's publisher state.
//
// Like every other layer, it assumes single-goroutine cooperative
// scheduling (§5): no internal locking.
type Role struct {
	cfg      config.Config
	clock    clock.Clock
	log      *logging.Logger
	metrics  *metrics.Counters
	cb       Callbacks
	newTimer func() ports.Timer

	subnetConn *subnet.Conn
	store      *pubsub.Store

	collectTimers    map[wire.SensorType]ports.Timer
	collectIntervals map[wire.SensorType]time.Duration
	needs            map[wire.SensorType]bool
	numNeeds         int

	aggregateTimers map[wire.Addr]ports.Timer
}

// NewRole constructs a publisher role. Attach must be called with the
// Subnet connection and Pubsub store it will drive once both exist --
// Pubsub's own callbacks are wired from SubscriptionCallbacks before the
// Subnet connection (which needs Pubsub's adapted callbacks) is opened, so
// construction is necessarily two-phase.
func NewRole(cfg config.Config, clk clock.Clock, log *logging.Logger, m *metrics.Counters, newTimer func() ports.Timer, cb Callbacks) *Role {
	return &Role{
		cfg:              cfg,
		clock:            clk,
		log:              log,
		metrics:          m,
		cb:               cb,
		newTimer:         newTimer,
		collectTimers:    map[wire.SensorType]ports.Timer{},
		collectIntervals: map[wire.SensorType]time.Duration{},
		needs:            map[wire.SensorType]bool{},
		aggregateTimers:  map[wire.Addr]ports.Timer{},
	}
}

// Attach wires the role to its Subnet connection and Pubsub store. Call
// once, after both have been constructed.
func (r *Role) Attach(conn *subnet.Conn, store *pubsub.Store) {
	r.subnetConn = conn
	r.store = store
}

// SubscriptionCallbacks returns the pubsub.Callbacks this role needs to
// observe subscription lifecycle events and maintain its collection timers.
func (r *Role) SubscriptionCallbacks() pubsub.Callbacks {
	return pubsub.Callbacks{
		OnSubscription:   r.onSubscription,
		OnUnsubscription: r.onUnsubscription,
	}
}

// SubnetCallbacks returns the subnet.Callbacks this role supplies directly
// (forwarding and publish-exhaustion), to be merged with Pubsub's own via
// pubsub.Store.SubnetCallbacks.
func (r *Role) SubnetCallbacks() subnet.Callbacks {
	return subnet.Callbacks{
		OnData: r.onData,
		ErrPub: r.cb.ErrPub,
	}
}

// InNeed reports whether any sensor currently has an outstanding collection
// request.
func (r *Role) InNeed() bool { return r.numNeeds > 0 }

// Needs reports whether the given sensor currently has an outstanding
// collection request.
func (r *Role) Needs(sensor wire.SensorType) bool { return r.needs[sensor] }

func (r *Role) setNeeds(sensor wire.SensorType, need bool) {
	if r.needs[sensor] == need {
		return
	}
	if need {
		r.numNeeds++
	} else {
		r.numNeeds--
	}
	r.needs[sensor] = need
}

// onSubscription re-arms sensor's collection timer if the new subscription
// wants a shorter period than the one currently running (§4.5 "if its
// interval is less than the current collection interval for its sensor,
// re-arm the timer and fire it immediately").
func (r *Role) onSubscription(entry pubsub.Entry) {
	sensor := entry.In.Sensor
	current, armed := r.collectIntervals[sensor]
	if armed && entry.In.Interval >= current {
		return
	}
	r.collectIntervals[sensor] = entry.In.Interval
	r.armCollectTimer(sensor, entry.In.Interval)
	r.onCollectTimerExpired(sensor)
}

// onUnsubscription recomputes the minimum interval across the sensor's
// remaining KNOWN subscriptions, stopping the timer entirely if none
// remain (§4.5).
func (r *Role) onUnsubscription(entry pubsub.Entry) {
	sensor := entry.In.Sensor
	min, ok := r.store.KnownSensorIntervals()[sensor]
	if !ok {
		if timer, exists := r.collectTimers[sensor]; exists {
			timer.Stop()
		}
		delete(r.collectIntervals, sensor)
		return
	}
	r.collectIntervals[sensor] = min
	r.armCollectTimer(sensor, min)
}

func (r *Role) armCollectTimer(sensor wire.SensorType, interval time.Duration) {
	timer, ok := r.collectTimers[sensor]
	if !ok {
		timer = r.newTimer()
		r.collectTimers[sensor] = timer
	}
	timer.Set(interval, func() { r.onCollectTimerExpired(sensor) })
}

func (r *Role) onCollectTimerExpired(sensor wire.SensorType) {
	r.setNeeds(sensor, true)
	if r.cb.OnCollect != nil {
		r.cb.OnCollect(sensor)
	}
	if interval, ok := r.collectIntervals[sensor]; ok {
		r.armCollectTimer(sensor, interval)
	}
}

// Publish applies every KNOWN subscription's hard/soft filters to reading
// and forwards it into each matching sink's outgoing buffer (§4.5
// publisher_publish).
func (r *Role) Publish(sensor wire.SensorType, reading wire.Reading) {
	r.setNeeds(sensor, false)

	var cur pubsub.Cursor
	for {
		entry, ok := r.store.Next(&cur)
		if !ok {
			break
		}
		if entry.In.Sensor != sensor {
			continue
		}

		hard := filters.HardFilterByKind(entry.In.Hard.Kind)
		if hard(filters.Reading(reading), filters.Arg(entry.In.Hard.Arg)) {
			continue
		}

		var payload []byte
		soft := filters.SoftFilterByKind(entry.In.Soft.Kind)
		if !soft(filters.Reading(reading), filters.Arg(entry.In.Soft.Arg)) {
			// Filtered values still touch the sink with a nil payload so the
			// subscription keeps propagating even without a value this round.
			payload = wire.EncodeReading(reading)
		}
		r.aggregateTrigger(entry.Sink, entry.SubID, payload)
	}
}

// onData re-adds upstream data into this node's own sink buffer when it is
// forwarding rather than terminating a subscription (§4.5 "On receiving an
// upstream ondata ... re-adds the value into our sink buffer").
func (r *Role) onData(sink wire.Addr, subid wire.SubID, payload []byte) {
	r.aggregateTrigger(sink, subid, payload)
}

// aggregateTrigger implements the early-full-flush and retry rule (§4.5,
// §7 "buffer full on add_data"): a failed add forces an immediate
// aggregate-publish to drain the buffer, then retries the same add once
// before giving up. Either way, the per-sink aggregation timer is (re)started
// if it isn't already ticking.
func (r *Role) aggregateTrigger(sink wire.Addr, subid wire.SubID, payload []byte) {
	if !r.subnetConn.AddData(sink, subid, payload) {
		r.fireAggregate(sink)
		r.subnetConn.AddData(sink, subid, payload)
	}
	timer, ok := r.aggregateTimers[sink]
	if !ok {
		timer = r.newTimer()
		r.aggregateTimers[sink] = timer
		timer.Set(r.cfg.AggregationInterval, func() { r.fireAggregate(sink) })
		return
	}
	if timer.Expired() {
		timer.Restart(r.cfg.AggregationInterval)
	}
}

// fireAggregate builds and sends the outgoing packet for one sink (§4.5
// "for each KNOWN subscription for that sink, extract buffered values,
// invoke user aggregator ..., then publish(sink)"), using the
// writeout/writein scratch discipline so the aggregator's repeated
// AddData calls replace the buffer instead of growing it.
func (r *Role) fireAggregate(sink wire.Addr) {
	if !r.subnetConn.Writeout(sink) {
		return
	}
	fragments := r.subnetConn.SinkFragments(sink)

	var cur pubsub.Cursor
	for {
		entry, ok := r.store.Next(&cur)
		if !ok {
			break
		}
		if entry.Sink != sink {
			continue
		}
		readings := extractReadings(fragments, entry.SubID)
		if len(readings) == 0 {
			continue
		}
		agg := filters.AggregatorByKind(entry.In.Aggregator.Kind)
		merged := agg(toFilterReadings(readings), filters.Arg(entry.In.Aggregator.Arg))
		for _, m := range merged {
			r.subnetConn.AddData(sink, entry.SubID, wire.EncodeReading(wire.Reading(m)))
		}
	}
	r.subnetConn.Writein()

	ok, err := r.subnetConn.Publish(sink)
	if err != nil && r.log != nil {
		r.log.Warn("publish failed", logging.String("sink", sink.String()), logging.Error(err))
	}
	_ = ok
}

// extractReadings mirrors extract_data (§4.4): every fragment in the sink's
// buffer matching subid with a non-empty payload is decoded into a reading.
func extractReadings(fragments []wire.Fragment, subid wire.SubID) []wire.Reading {
	var out []wire.Reading
	for _, f := range fragments {
		if f.SubID != subid || len(f.Payload) == 0 {
			continue
		}
		reading, err := wire.DecodeReading(f.Payload)
		if err != nil {
			continue
		}
		out = append(out, reading)
	}
	return out
}

func toFilterReadings(readings []wire.Reading) []filters.Reading {
	out := make([]filters.Reading, len(readings))
	for i, r := range readings {
		out[i] = filters.Reading(r)
	}
	return out
}
