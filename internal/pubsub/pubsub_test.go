package pubsub

import (
	"testing"
	"time"

	"meshnet/internal/clock"
	"meshnet/internal/config"
	"meshnet/internal/existance"
	"meshnet/internal/subnet"
	"meshnet/internal/wire"
)

func testConfig() config.Config {
	return config.Config{
		MaxSinks:         2,
		MaxSubscriptions: 4,
		RevokePeriod:     time.Minute,
	}
}

func encodeSub(t *testing.T, s wire.Subscription) []byte {
	t.Helper()
	payload, err := wire.EncodeSubscription(s)
	if err != nil {
		t.Fatalf("EncodeSubscription: %v", err)
	}
	return payload
}

func TestSubscribeThenQueryReportsKnown(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	var subscribed []wire.SubID
	store := NewStore(testConfig(), clk, nil, nil, Callbacks{
		OnSubscription: func(e Entry) { subscribed = append(subscribed, e.SubID) },
	})
	sink := wire.AddrFromUint64(1)
	cb := store.SubnetCallbacks(subnet.Callbacks{})

	cb.Subscribe(sink, wire.SubID(0), encodeSub(t, wire.Subscription{Interval: 15 * time.Second, Sensor: wire.SensorHumidity}))

	if state := cb.Query(sink, wire.SubID(0)); state != existance.Known {
		t.Fatalf("expected Known, got %v", state)
	}
	if len(subscribed) != 1 || subscribed[0] != 0 {
		t.Fatalf("expected OnSubscription to fire once for subid 0, got %v", subscribed)
	}
}

func TestUnsubscribeMarksRevokedAndFiresCallback(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	var unsubscribed []wire.SubID
	store := NewStore(testConfig(), clk, nil, nil, Callbacks{
		OnUnsubscription: func(e Entry) { unsubscribed = append(unsubscribed, e.SubID) },
	})
	sink := wire.AddrFromUint64(1)
	cb := store.SubnetCallbacks(subnet.Callbacks{})
	cb.Subscribe(sink, wire.SubID(0), encodeSub(t, wire.Subscription{Sensor: wire.SensorHumidity}))

	cb.Unsubscribe(sink, wire.SubID(0))

	if state := cb.Query(sink, wire.SubID(0)); state != existance.Revoked {
		t.Fatalf("expected Revoked immediately after unsubscribe, got %v", state)
	}
	clk.Advance(2 * time.Minute)
	if state := cb.Query(sink, wire.SubID(0)); state != existance.Unknown {
		t.Fatalf("expected Unknown after revoke period elapses, got %v", state)
	}
	if len(unsubscribed) != 1 {
		t.Fatalf("expected exactly one OnUnsubscription, got %d", len(unsubscribed))
	}
}

func TestInformReturnsEncodedRecordWhenKnown(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	store := NewStore(testConfig(), clk, nil, nil, Callbacks{})
	sink := wire.AddrFromUint64(1)
	cb := store.SubnetCallbacks(subnet.Callbacks{})
	sub := wire.Subscription{Interval: 5 * time.Second, Sensor: wire.SensorPressure}
	cb.Subscribe(sink, wire.SubID(2), encodeSub(t, sub))

	payload, ok := cb.Inform(sink, wire.SubID(2), 256)
	if !ok {
		t.Fatal("expected Inform to succeed for a Known subscription")
	}
	decoded, err := wire.DecodeSubscription(payload)
	if err != nil {
		t.Fatalf("DecodeSubscription: %v", err)
	}
	if decoded.Sensor != wire.SensorPressure || decoded.Interval != 5*time.Second {
		t.Fatalf("round-tripped subscription mismatch: %+v", decoded)
	}

	if _, ok := cb.Inform(sink, wire.SubID(3), 256); ok {
		t.Fatal("expected Inform to fail for an unknown subid")
	}
}

func TestSinkLeftRevokesEveryKnownSubscription(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	var unsubCount int
	store := NewStore(testConfig(), clk, nil, nil, Callbacks{
		OnUnsubscription: func(Entry) { unsubCount++ },
	})
	sink := wire.AddrFromUint64(1)
	cb := store.SubnetCallbacks(subnet.Callbacks{})
	cb.Subscribe(sink, wire.SubID(0), encodeSub(t, wire.Subscription{Sensor: wire.SensorHumidity}))
	cb.Subscribe(sink, wire.SubID(1), encodeSub(t, wire.Subscription{Sensor: wire.SensorPressure}))

	cb.SinkLeft(sink)

	if unsubCount != 2 {
		t.Fatalf("expected SinkLeft to revoke both subscriptions, got %d callbacks", unsubCount)
	}
	if state := cb.Query(sink, wire.SubID(0)); state != existance.Revoked {
		t.Fatalf("expected subid 0 Revoked after sink left, got %v", state)
	}
}

func TestCursorWalksOnlyKnownSubscriptions(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	store := NewStore(testConfig(), clk, nil, nil, Callbacks{})
	sinkA := wire.AddrFromUint64(1)
	sinkB := wire.AddrFromUint64(2)
	cb := store.SubnetCallbacks(subnet.Callbacks{})
	cb.Subscribe(sinkA, wire.SubID(0), encodeSub(t, wire.Subscription{Sensor: wire.SensorHumidity}))
	cb.Subscribe(sinkA, wire.SubID(1), encodeSub(t, wire.Subscription{Sensor: wire.SensorHumidity}))
	cb.Unsubscribe(sinkA, wire.SubID(0))
	cb.Subscribe(sinkB, wire.SubID(0), encodeSub(t, wire.Subscription{Sensor: wire.SensorPressure}))

	var cur Cursor
	var seen []wire.Addr
	for {
		entry, ok := store.Next(&cur)
		if !ok {
			break
		}
		seen = append(seen, entry.Sink)
	}
	if len(seen) != 2 {
		t.Fatalf("expected exactly the two still-known subscriptions, got %d: %v", len(seen), seen)
	}
}

func TestKnownSensorIntervalsReportsMinimum(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	store := NewStore(testConfig(), clk, nil, nil, Callbacks{})
	sink := wire.AddrFromUint64(1)
	cb := store.SubnetCallbacks(subnet.Callbacks{})
	cb.Subscribe(sink, wire.SubID(0), encodeSub(t, wire.Subscription{Interval: 20 * time.Second, Sensor: wire.SensorHumidity}))
	cb.Subscribe(sink, wire.SubID(1), encodeSub(t, wire.Subscription{Interval: 5 * time.Second, Sensor: wire.SensorHumidity}))

	intervals := store.KnownSensorIntervals()
	if got := intervals[wire.SensorHumidity]; got != 5*time.Second {
		t.Fatalf("expected minimum interval 5s, got %v", got)
	}
}
