// Package pubsub implements the subscription-lifecycle middleware (§4.4):
// full subscription metadata, tri-state existance tracking, a restartable
// iterator over active subscriptions, and the subnet.Callbacks adapter that
// wires a Store into a Subnet connection.
package pubsub

import (
	"time"

	"meshnet/internal/clock"
	"meshnet/internal/config"
	"meshnet/internal/existance"
	"meshnet/internal/logging"
	"meshnet/internal/metrics"
	"meshnet/internal/subnet"
	"meshnet/internal/wire"
)

// Entry is one existance-tracked subscription (§3 EntrySub): the
// subscription record plus the sink/subid it belongs to and its tri-state
// revocation timestamp.
type Entry struct {
	Sink    wire.Addr
	SubID   wire.SubID
	Revoked existance.Revocation
	In      wire.Subscription
}

// State derives the entry's current tri-state existance relative to now.
func (e Entry) State(now time.Time, revokePeriod time.Duration) existance.State {
	return e.Revoked.State(now, revokePeriod)
}

// Callbacks are the user-facing subscription lifecycle events (§4.4
// on_subscription/on_unsubscription).
type Callbacks struct {
	// OnSubscription fires once a subscription is newly KNOWN, whether
	// locally originated, heard, or learned via REPLY.
	OnSubscription func(entry Entry)
	// OnUnsubscription fires once a subscription transitions out of KNOWN,
	// whether by explicit UNSUBSCRIBE or because its sink left.
	OnUnsubscription func(entry Entry)
}

type sinkSlot struct {
	used   bool
	addr   wire.Addr
	maxsub int // highest subid marked KNOWN under this sink (decremented when that subid is unsubscribed), -1 if none or after the sink leaves
	subs   []Entry
}

// Store holds every sink's subscription table (§4.4
// sinks[MAX_SINKS].subs[MAX_SUBSCRIPTIONS]). It is not safe for concurrent
// use, consistent with every other layer's single-taskloop assumption.
type Store struct {
	cfg     config.Config
	clock   clock.Clock
	log     *logging.Logger
	metrics *metrics.Counters
	cb      Callbacks

	sinks []sinkSlot
}

// NewStore constructs an empty subscription store.
func NewStore(cfg config.Config, clk clock.Clock, log *logging.Logger, m *metrics.Counters, cb Callbacks) *Store {
	return &Store{cfg: cfg, clock: clk, log: log, metrics: m, cb: cb, sinks: make([]sinkSlot, cfg.MaxSinks)}
}

// SubnetCallbacks adapts the store to Subnet's Callbacks contract (§4.4),
// layering in the caller's own OnData/ErrPub handlers -- the application
// data and publish-failure events Subnet also surfaces but which pubsub has
// no opinion on.
func (s *Store) SubnetCallbacks(extra subnet.Callbacks) subnet.Callbacks {
	return subnet.Callbacks{
		Query:       s.query,
		Subscribe:   s.subscribe,
		Unsubscribe: s.unsubscribe,
		Inform:      s.inform,
		SinkLeft:    s.sinkLeft,
		OnData:      extra.OnData,
		ErrPub:      extra.ErrPub,
	}
}

func (s *Store) findSink(addr wire.Addr) int {
	for i := range s.sinks {
		if s.sinks[i].used && s.sinks[i].addr == addr {
			return i
		}
	}
	return -1
}

// ensureSink finds or allocates the slot for a sink, reporting -1 if the
// table is full of distinct sinks already in use.
func (s *Store) ensureSink(addr wire.Addr) int {
	if idx := s.findSink(addr); idx >= 0 {
		return idx
	}
	for i := range s.sinks {
		if !s.sinks[i].used {
			s.sinks[i] = sinkSlot{used: true, addr: addr, maxsub: -1, subs: make([]Entry, s.cfg.MaxSubscriptions)}
			for j := range s.sinks[i].subs {
				s.sinks[i].subs[j] = Entry{Sink: addr, SubID: wire.SubID(j), Revoked: existance.NeverSeen()}
			}
			return i
		}
	}
	return -1
}

func (s *Store) query(sink wire.Addr, subid wire.SubID) existance.State {
	idx := s.findSink(sink)
	if idx < 0 || int(subid) >= len(s.sinks[idx].subs) {
		return existance.Unknown
	}
	return s.sinks[idx].subs[subid].State(s.clock.Now(), s.cfg.RevokePeriod)
}

func (s *Store) subscribe(sink wire.Addr, subid wire.SubID, payload []byte) {
	idx := s.ensureSink(sink)
	if idx < 0 {
		if s.log != nil {
			s.log.Warn("pubsub: sink table full, dropping subscription", logging.String("sink", sink.String()))
		}
		return
	}
	if int(subid) >= len(s.sinks[idx].subs) {
		if s.log != nil {
			s.log.Warn("pubsub: subid out of range", logging.String("sink", sink.String()), logging.Uint8("subid", uint8(subid)))
		}
		return
	}
	sub, err := wire.DecodeSubscription(payload)
	if err != nil {
		if s.log != nil {
			s.log.Warn("pubsub: malformed subscription payload", logging.String("sink", sink.String()), logging.Error(err))
		}
		return
	}

	entry := &s.sinks[idx].subs[subid]
	entry.Revoked = existance.Active()
	entry.In = sub
	if int(subid) > s.sinks[idx].maxsub {
		s.sinks[idx].maxsub = int(subid)
	}
	if s.log != nil {
		s.log.Debug("subscription known", logging.String("sink", sink.String()), logging.Uint8("subid", uint8(subid)))
	}
	if s.cb.OnSubscription != nil {
		s.cb.OnSubscription(*entry)
	}
}

func (s *Store) unsubscribe(sink wire.Addr, subid wire.SubID) {
	idx := s.findSink(sink)
	if idx < 0 || int(subid) >= len(s.sinks[idx].subs) {
		return
	}
	entry := &s.sinks[idx].subs[subid]
	if entry.State(s.clock.Now(), s.cfg.RevokePeriod) != existance.Known {
		return
	}
	entry.Revoked = existance.RevokedAt(s.clock.Now())
	if s.sinks[idx].maxsub == int(subid) {
		// The original just decrements rather than rescanning for the next
		// highest KNOWN subid; kept as-is (see DESIGN.md).
		s.sinks[idx].maxsub = int(subid) - 1
	}
	if s.log != nil {
		s.log.Debug("subscription revoked", logging.String("sink", sink.String()), logging.Uint8("subid", uint8(subid)))
	}
	if s.cb.OnUnsubscription != nil {
		s.cb.OnUnsubscription(*entry)
	}
}

func (s *Store) inform(sink wire.Addr, subid wire.SubID, space int) ([]byte, bool) {
	idx := s.findSink(sink)
	if idx < 0 || int(subid) >= len(s.sinks[idx].subs) {
		return nil, false
	}
	entry := s.sinks[idx].subs[subid]
	if entry.State(s.clock.Now(), s.cfg.RevokePeriod) != existance.Known {
		return nil, false
	}
	payload, err := wire.EncodeSubscription(entry.In)
	if err != nil || len(payload) > space {
		return nil, false
	}
	return payload, true
}

func (s *Store) sinkLeft(sink wire.Addr) {
	idx := s.findSink(sink)
	if idx < 0 {
		return
	}
	now := s.clock.Now()
	for i := range s.sinks[idx].subs {
		entry := &s.sinks[idx].subs[i]
		if entry.State(now, s.cfg.RevokePeriod) == existance.Known {
			entry.Revoked = existance.RevokedAt(now)
			if s.cb.OnUnsubscription != nil {
				s.cb.OnUnsubscription(*entry)
			}
		}
	}
	s.sinks[idx].maxsub = -1
	if s.metrics != nil {
		s.metrics.IncSinkLeft()
	}
}

// Lookup returns the current entry for (sink, subid), or false if the sink
// or subid is out of range. Unlike Query it does not collapse the result to
// a bare existance.State -- callers that need the full record (e.g. the
// publisher reading a subscription's filters) use this instead.
func (s *Store) Lookup(sink wire.Addr, subid wire.SubID) (Entry, bool) {
	idx := s.findSink(sink)
	if idx < 0 || int(subid) >= len(s.sinks[idx].subs) {
		return Entry{}, false
	}
	return s.sinks[idx].subs[subid], true
}

// Cursor walks every KNOWN subscription across every sink, restartable from
// its zero value (§4.4 pubsub_next_subscription).
type Cursor struct {
	sink    int
	subid   int
	started bool
}

// Next advances the cursor to the following KNOWN subscription. It reports
// false once every sink has been exhausted, at which point the cursor may
// be discarded or reused to restart the walk (its zero value already means
// "from the beginning").
func (s *Store) Next(cur *Cursor) (Entry, bool) {
	now := s.clock.Now()
	if cur.started {
		cur.subid++
	}
	cur.started = true
	for cur.sink < len(s.sinks) {
		slot := &s.sinks[cur.sink]
		if !slot.used || cur.subid > slot.maxsub {
			cur.sink++
			cur.subid = 0
			continue
		}
		entry := slot.subs[cur.subid]
		if entry.State(now, s.cfg.RevokePeriod) == existance.Known {
			return entry, true
		}
		cur.subid++
	}
	return Entry{}, false
}

// KnownSensorIntervals returns, per sensor type, the minimum Interval
// across every currently-KNOWN subscription for that sensor (§4.5
// "interval = the minimum interval across all KNOWN subscriptions for that
// sensor"). Sensors with no KNOWN subscription are absent from the map.
func (s *Store) KnownSensorIntervals() map[wire.SensorType]time.Duration {
	out := map[wire.SensorType]time.Duration{}
	var cur Cursor
	for {
		entry, ok := s.Next(&cur)
		if !ok {
			break
		}
		if currentMin, seen := out[entry.In.Sensor]; !seen || entry.In.Interval < currentMin {
			out[entry.In.Sensor] = entry.In.Interval
		}
	}
	return out
}
