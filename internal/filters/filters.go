// Package filters is the soft/hard filter and aggregator registry (§4.5): a
// compile-time map of named strategies keyed by a short string constant,
// looked up once per invocation instead of branching on a type switch --
// the same shape as the teacher's internal/combat weapon-balance table.
package filters

import "math"

// SoftFilter reports whether a single reading should be dropped before
// aggregation (§4.5 "applied per value"). It never prevents the
// subscription from continuing to be served.
type SoftFilter func(reading Reading, arg Arg) bool

// HardFilter reports whether a subscription should be ignored entirely at
// this node (§4.5 "applied once per (subscription, node)"). It still takes
// the reading about to be added, since the spec also applies it "before
// each add".
type HardFilter func(reading Reading, arg Arg) bool

// Aggregator combines a sink's buffered readings for one subscription into
// the set actually re-added to the buffer (§4.5 "invoke user aggregator").
type Aggregator func(readings []Reading, arg Arg) []Reading

// Reading is the minimal shape a filter or aggregator needs from
// wire.Reading; kept local so this package has no dependency on wire's
// encoding concerns.
type Reading struct {
	X, Y  float64
	Value float64
}

// Arg mirrors wire.FilterArg: up to three float64 operands, enough to cover
// every registered strategy below (a single threshold, a [low, high] pair,
// or a distance target plus radius).
type Arg struct {
	A, B, C float64
}

func distance(ax, ay, bx, by float64) float64 {
	dx, dy := ax-bx, ay-by
	return math.Sqrt(dx*dx + dy*dy)
}

// Soft filter kinds.
const (
	NoFilter  = "NONE"
	GT        = "GT"
	GTE       = "GTE"
	LT        = "LT"
	LTE       = "LTE"
	Between   = "BETWEEN"
	DistGT    = "DISTANCE_GT"
	DistGTE   = "DISTANCE_GTE"
	DistLT    = "DISTANCE_LT"
	DistLTE   = "DISTANCE_LTE"
)

// thresholdFilters is shared between the soft and hard registries: the
// comparison a filter performs does not depend on which role it is used in,
// only on when the caller decides to invoke it.
var thresholdFilters = map[string]func(Reading, Arg) bool{
	NoFilter: func(Reading, Arg) bool { return false },
	GT:       func(r Reading, a Arg) bool { return !(r.Value > a.A) },
	GTE:      func(r Reading, a Arg) bool { return !(r.Value >= a.A) },
	LT:       func(r Reading, a Arg) bool { return !(r.Value < a.A) },
	LTE:      func(r Reading, a Arg) bool { return !(r.Value <= a.A) },
	Between:  func(r Reading, a Arg) bool { return !(r.Value > a.A && r.Value < a.B) },
	DistGT:   func(r Reading, a Arg) bool { return !(distance(r.X, r.Y, a.A, a.B) > a.C) },
	DistGTE:  func(r Reading, a Arg) bool { return !(distance(r.X, r.Y, a.A, a.B) >= a.C) },
	DistLT:   func(r Reading, a Arg) bool { return !(distance(r.X, r.Y, a.A, a.B) < a.C) },
	DistLTE:  func(r Reading, a Arg) bool { return !(distance(r.X, r.Y, a.A, a.B) <= a.C) },
}

// SoftFilterByKind looks up a registered soft filter. An unrecognized kind
// resolves to NoFilter rather than an error: a subscription fragment from a
// node running a newer filter set should degrade to "always pass" here
// rather than break propagation.
func SoftFilterByKind(kind string) SoftFilter {
	if fn, ok := thresholdFilters[kind]; ok {
		return fn
	}
	return thresholdFilters[NoFilter]
}

// HardFilterByKind looks up a registered hard filter, with the same
// unrecognized-kind fallback as SoftFilterByKind.
func HardFilterByKind(kind string) HardFilter {
	if fn, ok := thresholdFilters[kind]; ok {
		return fn
	}
	return thresholdFilters[NoFilter]
}

// Aggregator kinds.
const (
	Last        = "LAST"
	Avg         = "AVG"
	LocationAvg = "LOCATION_AVG"
)

var aggregators = map[string]Aggregator{
	Last: func(readings []Reading, _ Arg) []Reading {
		if len(readings) == 0 {
			return nil
		}
		return []Reading{readings[len(readings)-1]}
	},
	Avg: func(readings []Reading, _ Arg) []Reading {
		if len(readings) == 0 {
			return nil
		}
		var sumX, sumY, sumV float64
		for _, r := range readings {
			sumX += r.X
			sumY += r.Y
			sumV += r.Value
		}
		n := float64(len(readings))
		return []Reading{{X: sumX / n, Y: sumY / n, Value: sumV / n}}
	},
	LocationAvg: locationAvg,
}

// locationAvg merges readings whose x/y position is within arg.A
// ("maxdist") of a group's running mean position into a single averaged
// record, leaving readings too far from every existing group to start their
// own (§8 scenario 4). Grouping is first-fit: a reading joins the first group
// whose mean it falls within maxdist of,
// matching the one-pass nature of the original on-line aggregator.
func locationAvg(readings []Reading, arg Arg) []Reading {
	type group struct {
		sumX, sumY, sumV float64
		n                int
	}
	var groups []group
	for _, r := range readings {
		placed := false
		for i := range groups {
			meanX := groups[i].sumX / float64(groups[i].n)
			meanY := groups[i].sumY / float64(groups[i].n)
			if distance(r.X, r.Y, meanX, meanY) <= arg.A {
				groups[i].sumX += r.X
				groups[i].sumY += r.Y
				groups[i].sumV += r.Value
				groups[i].n++
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, group{sumX: r.X, sumY: r.Y, sumV: r.Value, n: 1})
		}
	}
	out := make([]Reading, 0, len(groups))
	for _, g := range groups {
		n := float64(g.n)
		out = append(out, Reading{X: g.sumX / n, Y: g.sumY / n, Value: g.sumV / n})
	}
	return out
}

// AggregatorByKind looks up a registered aggregator. An unrecognized kind
// falls back to LAST, the distilled spec's implicit default.
func AggregatorByKind(kind string) Aggregator {
	if fn, ok := aggregators[kind]; ok {
		return fn
	}
	return aggregators[Last]
}
