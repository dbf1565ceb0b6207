package subscriber

import (
	"testing"
	"time"

	"meshnet/internal/clock"
	"meshnet/internal/config"
	"meshnet/internal/ports"
	"meshnet/internal/pubsub"
	"meshnet/internal/radiosim"
	"meshnet/internal/subnet"
	"meshnet/internal/wire"
)

// fakeTimer is a manually driven ports.Timer, mirroring the one used
// throughout the subnet and adisclose test suites.
type fakeTimer struct {
	fn      func()
	pending bool
	expired bool
}

func (t *fakeTimer) Set(d time.Duration, fn func()) {
	t.fn = fn
	t.pending = true
	t.expired = false
}
func (t *fakeTimer) Stop()                   { t.pending = false }
func (t *fakeTimer) Restart(d time.Duration) { t.pending = true; t.expired = false }
func (t *fakeTimer) Expired() bool           { return t.expired }
func (t *fakeTimer) fire() {
	if !t.pending {
		return
	}
	t.pending = false
	t.expired = true
	if t.fn != nil {
		t.fn()
	}
}

func testConfig() config.Config {
	return config.Config{
		MaxSinks:           4,
		MaxNeighbors:       4,
		MaxAlternateRoutes: 3,
		MaxSubscriptions:   4,
		PacketbufSize:      128,
		RevokePeriod:       time.Minute,
		ADiscloseTimeout:   time.Second,
		AckBits:            2,
		ResendInterval:     30 * time.Second,
	}
}

// openSubscriberNode builds one standalone node running the subscriber role
// against its own pubsub store, the same wiring cmd/meshnoded uses for the
// sink node.
func openSubscriberNode(t *testing.T, medium *radiosim.Medium, self wire.Addr, cb Callbacks, timers *[]*fakeTimer) *Role {
	t.Helper()
	newTimer := func() ports.Timer {
		ft := &fakeTimer{}
		if timers != nil {
			*timers = append(*timers, ft)
		}
		return ft
	}
	role := NewRole(testConfig(), nil, newTimer, cb)
	store := pubsub.NewStore(testConfig(), clock.NewFake(time.Unix(1000, 0)), nil, nil, pubsub.Callbacks{})
	conn, err := subnet.Open(medium.NewRadio(self), 10, 11, self, newTimer, testConfig(), clock.NewFake(time.Unix(1000, 0)), nil, nil, store.SubnetCallbacks(role.SubnetCallbacks()))
	if err != nil {
		t.Fatalf("subnet.Open: %v", err)
	}
	role.Attach(conn)
	return role
}

func TestSubscribeAssignsMonotonicSubIDs(t *testing.T) {
	medium := radiosim.NewMedium()
	role := openSubscriberNode(t, medium, wire.AddrFromUint64(1), Callbacks{}, nil)

	first, err := role.Subscribe(wire.Subscription{Sensor: wire.SensorHumidity})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	second, err := role.Subscribe(wire.Subscription{Sensor: wire.SensorPressure})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if first != 0 || second != 1 {
		t.Fatalf("expected subids 0 then 1, got %d then %d", first, second)
	}
	if _, ok := role.Subscription(first); !ok {
		t.Fatal("expected the first subscription record to be retained")
	}
}

func TestSubscribeFailsWhenTableIsFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSubscriptions = 1
	medium := radiosim.NewMedium()
	role := NewRole(cfg, nil, func() ports.Timer { return &fakeTimer{} }, Callbacks{})
	store := pubsub.NewStore(cfg, clock.NewFake(time.Unix(1000, 0)), nil, nil, pubsub.Callbacks{})
	self := wire.AddrFromUint64(1)
	conn, err := subnet.Open(medium.NewRadio(self), 10, 11, self, func() ports.Timer { return &fakeTimer{} }, cfg, clock.NewFake(time.Unix(1000, 0)), nil, nil, store.SubnetCallbacks(role.SubnetCallbacks()))
	if err != nil {
		t.Fatalf("subnet.Open: %v", err)
	}
	role.Attach(conn)

	if _, err := role.Subscribe(wire.Subscription{Sensor: wire.SensorHumidity}); err != nil {
		t.Fatalf("first Subscribe should succeed: %v", err)
	}
	if _, err := role.Subscribe(wire.Subscription{Sensor: wire.SensorPressure}); err == nil {
		t.Fatal("expected the second Subscribe to fail once the table is full")
	}
}

func TestResubscribeTimerResendsSubscription(t *testing.T) {
	medium := radiosim.NewMedium()
	var timers []*fakeTimer
	role := openSubscriberNode(t, medium, wire.AddrFromUint64(1), Callbacks{}, &timers)

	subid, err := role.Subscribe(wire.Subscription{Interval: 5 * time.Second, Sensor: wire.SensorHumidity})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	timer, ok := role.resubscribe[subid]
	if !ok {
		t.Fatal("expected a resubscribe timer to be armed")
	}
	ft := timer.(*fakeTimer)
	if !ft.pending {
		t.Fatal("expected the resubscribe timer to be pending right after Subscribe")
	}

	ft.fire()

	if !ft.pending {
		t.Fatal("expected the resubscribe timer to be re-armed after firing")
	}
}

func TestUnsubscribeStopsResubscribeTimer(t *testing.T) {
	medium := radiosim.NewMedium()
	role := openSubscriberNode(t, medium, wire.AddrFromUint64(1), Callbacks{}, nil)

	subid, err := role.Subscribe(wire.Subscription{Sensor: wire.SensorHumidity})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := role.Unsubscribe(subid); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, ok := role.resubscribe[subid]; ok {
		t.Fatal("expected the resubscribe timer to be removed after Unsubscribe")
	}
	if _, ok := role.Subscription(subid); ok {
		t.Fatal("expected the subscription record to be removed after Unsubscribe")
	}
}

func TestOnDataOnlySurfacesReadingsAddressedToSelf(t *testing.T) {
	role := NewRole(testConfig(), nil, func() ports.Timer { return &fakeTimer{} }, Callbacks{})
	medium := radiosim.NewMedium()
	self := wire.AddrFromUint64(1)
	conn, err := subnet.Open(medium.NewRadio(self), 10, 11, self, func() ports.Timer { return &fakeTimer{} }, testConfig(), clock.NewFake(time.Unix(1000, 0)), nil, nil, subnet.Callbacks{})
	if err != nil {
		t.Fatalf("subnet.Open: %v", err)
	}
	role.Attach(conn)

	var delivered []wire.SubID
	role.cb.OnReading = func(subid wire.SubID, _ wire.Reading) { delivered = append(delivered, subid) }

	other := wire.AddrFromUint64(99)
	payload := wire.EncodeReading(wire.Reading{Value: 42})

	role.onData(other, wire.SubID(3), payload)
	if len(delivered) != 0 {
		t.Fatalf("expected data for another sink to be dropped, got %v", delivered)
	}

	role.onData(self, wire.SubID(5), payload)
	if len(delivered) != 1 || delivered[0] != 5 {
		t.Fatalf("expected data addressed to self to be delivered, got %v", delivered)
	}
}
