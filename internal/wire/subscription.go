package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// SensorType tags what a reading represents (§3 "sensor: reading-type tag").
type SensorType uint8

const (
	SensorLocation SensorType = iota
	SensorHumidity
	SensorPressure
)

func (s SensorType) String() string {
	switch s {
	case SensorLocation:
		return "location"
	case SensorHumidity:
		return "humidity"
	case SensorPressure:
		return "pressure"
	default:
		return "unknown"
	}
}

// FilterArg is the generic argument union every soft filter, hard filter,
// and aggregator draws from (reading threshold, distance target, or both),
// rendering the original's per-filter `union ... arg` as one fixed shape
// instead of an unsafe union.
type FilterArg struct {
	A, B, C float64
}

// FilterSpec is one `{kind, arg}` pair (§3): Kind names a strategy
// registered in internal/filters; an unrecognized Kind is treated as
// no-op by callers rather than rejected here, so a subscription from a
// newer node a node doesn't yet recognize degrades instead of breaking.
type FilterSpec struct {
	Kind string
	Arg  FilterArg
}

const filterKindLen = 16

// Subscription is the immutable subscription record (§3): the payload
// carried in SUBSCRIBE/REPLY fragments and copied verbatim into Pubsub's
// EntrySub.in.
type Subscription struct {
	Interval   time.Duration
	Soft       FilterSpec
	Hard       FilterSpec
	Aggregator FilterSpec
	Sensor     SensorType
}

// subscriptionEncodedSize is fixed: u32 interval (ms) + u8 sensor + three
// (16-byte kind + 24-byte arg) blocks.
const subscriptionEncodedSize = 4 + 1 + 3*(filterKindLen+24)

func putFilterSpec(buf []byte, spec FilterSpec) error {
	if len(spec.Kind) > filterKindLen {
		return fmt.Errorf("wire: filter kind %q exceeds %d bytes", spec.Kind, filterKindLen)
	}
	copy(buf[:filterKindLen], spec.Kind)
	binary.BigEndian.PutUint64(buf[filterKindLen:filterKindLen+8], math.Float64bits(spec.Arg.A))
	binary.BigEndian.PutUint64(buf[filterKindLen+8:filterKindLen+16], math.Float64bits(spec.Arg.B))
	binary.BigEndian.PutUint64(buf[filterKindLen+16:filterKindLen+24], math.Float64bits(spec.Arg.C))
	return nil
}

func getFilterSpec(buf []byte) FilterSpec {
	kindBytes := buf[:filterKindLen]
	n := filterKindLen
	for n > 0 && kindBytes[n-1] == 0 {
		n--
	}
	return FilterSpec{
		Kind: string(kindBytes[:n]),
		Arg: FilterArg{
			A: math.Float64frombits(binary.BigEndian.Uint64(buf[filterKindLen : filterKindLen+8])),
			B: math.Float64frombits(binary.BigEndian.Uint64(buf[filterKindLen+8 : filterKindLen+16])),
			C: math.Float64frombits(binary.BigEndian.Uint64(buf[filterKindLen+16 : filterKindLen+24])),
		},
	}
}

// EncodeSubscription lays out a fixed-size Subscription record for transport
// inside a SUBSCRIBE or REPLY fragment payload.
func EncodeSubscription(s Subscription) ([]byte, error) {
	buf := make([]byte, subscriptionEncodedSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(s.Interval.Milliseconds()))
	buf[4] = byte(s.Sensor)
	offset := 5
	for _, spec := range []FilterSpec{s.Soft, s.Hard, s.Aggregator} {
		if err := putFilterSpec(buf[offset:offset+filterKindLen+24], spec); err != nil {
			return nil, err
		}
		offset += filterKindLen + 24
	}
	return buf, nil
}

// DecodeSubscription parses a subscription record previously produced by
// EncodeSubscription.
func DecodeSubscription(buf []byte) (Subscription, error) {
	if len(buf) < subscriptionEncodedSize {
		return Subscription{}, fmt.Errorf("wire: truncated subscription record: need %d bytes, have %d", subscriptionEncodedSize, len(buf))
	}
	s := Subscription{
		Interval: time.Duration(binary.BigEndian.Uint32(buf[0:4])) * time.Millisecond,
		Sensor:   SensorType(buf[4]),
	}
	offset := 5
	s.Soft = getFilterSpec(buf[offset : offset+filterKindLen+24])
	offset += filterKindLen + 24
	s.Hard = getFilterSpec(buf[offset : offset+filterKindLen+24])
	offset += filterKindLen + 24
	s.Aggregator = getFilterSpec(buf[offset : offset+filterKindLen+24])
	return s, nil
}

// Reading is one sample produced by a sensor (§4.5): every sensor type in
// this stack carries a location alongside its value, mirroring the
// original's `struct locdouble { location; value }` shape shared by both
// humidity and pressure readings.
type Reading struct {
	X, Y  float64
	Value float64
}

const readingEncodedSize = 24

// EncodeReading packs a reading into its fixed 24-byte wire form.
func EncodeReading(r Reading) []byte {
	buf := make([]byte, readingEncodedSize)
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(r.X))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(r.Y))
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(r.Value))
	return buf
}

// DecodeReading unpacks a reading previously produced by EncodeReading.
func DecodeReading(buf []byte) (Reading, error) {
	if len(buf) < readingEncodedSize {
		return Reading{}, fmt.Errorf("wire: truncated reading: need %d bytes, have %d", readingEncodedSize, len(buf))
	}
	return Reading{
		X:     math.Float64frombits(binary.BigEndian.Uint64(buf[0:8])),
		Y:     math.Float64frombits(binary.BigEndian.Uint64(buf[8:16])),
		Value: math.Float64frombits(binary.BigEndian.Uint64(buf[16:24])),
	}, nil
}
