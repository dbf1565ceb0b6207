package subnet

import (
	"time"

	"meshnet/internal/existance"
	"meshnet/internal/logging"
	"meshnet/internal/wire"
)

func (c *Conn) findSinkIndex(addr wire.Addr) int {
	for i := range c.sinks {
		if c.sinks[i].used && c.sinks[i].addr == addr {
			return i
		}
	}
	return -1
}

// allocSinkIndex finds a free slot, reclaiming one whose revocation has
// expired past the window if none is free outright. It reports false if
// the table is genuinely full of live sinks.
func (c *Conn) allocSinkIndex(addr wire.Addr) (int, bool) {
	now := c.clock.Now()
	for i := range c.sinks {
		if !c.sinks[i].used || c.sinks[i].revoked.Eligible(now, c.cfg.RevokePeriod) {
			c.sinks[i] = Sink{used: true, addr: addr, revoked: existance.Active()}
			return i, true
		}
	}
	return -1, false
}

func (c *Conn) findNeighborIndex(addr wire.Addr) int {
	for i := range c.neighbors {
		if c.neighbors[i].used && c.neighbors[i].addr == addr {
			return i
		}
	}
	return -1
}

// touchNeighbor updates or inserts a neighbour record, LRU-evicting when
// the table is full, and returns a stable reference to the slot.
func (c *Conn) touchNeighbor(addr wire.Addr) neighborRef {
	now := c.clock.Now()
	if i := c.findNeighborIndex(addr); i >= 0 {
		c.neighbors[i].lastActive = now
		return neighborRef{index: i, gen: c.neighbors[i].gen}
	}
	for i := range c.neighbors {
		if !c.neighbors[i].used {
			c.neighbors[i] = Neighbor{used: true, addr: addr, lastActive: now, gen: c.neighbors[i].gen}
			return neighborRef{index: i, gen: c.neighbors[i].gen}
		}
	}

	oldest := 0
	for i := 1; i < len(c.neighbors); i++ {
		if c.neighbors[i].lastActive.Before(c.neighbors[oldest].lastActive) {
			oldest = i
		}
	}
	c.neighbors[oldest].gen++
	c.neighbors[oldest].addr = addr
	c.neighbors[oldest].lastActive = now
	c.neighbors[oldest].used = true
	if c.metrics != nil {
		c.metrics.IncNeighborEviction()
	}
	return neighborRef{index: oldest, gen: c.neighbors[oldest].gen}
}

func (c *Conn) neighborLastActive(ref neighborRef) time.Time {
	if ref.index < 0 || ref.index >= len(c.neighbors) {
		return time.Time{}
	}
	n := c.neighbors[ref.index]
	if !n.used || n.gen != ref.gen {
		return time.Time{}
	}
	return n.lastActive
}

func (c *Conn) neighborAddr(ref neighborRef) (wire.Addr, bool) {
	if ref.index < 0 || ref.index >= len(c.neighbors) {
		return wire.Addr{}, false
	}
	n := c.neighbors[ref.index]
	if !n.used || n.gen != ref.gen {
		return wire.Addr{}, false
	}
	return n.addr, true
}

func (c *Conn) hasNextHop(sink *Sink, neighborIdx int) bool {
	for _, nh := range sink.nextHops {
		if nh.ref.index == neighborIdx && nh.ref.gen == c.neighbors[neighborIdx].gen {
			return true
		}
	}
	return false
}

// addNextHop appends a next-hop candidate, or replaces the LRU-oldest
// candidate if the table is already at MaxAlternateRoutes.
func (c *Conn) addNextHop(sink *Sink, ref neighborRef, cost int) {
	if len(sink.nextHops) < c.cfg.MaxAlternateRoutes {
		sink.nextHops = append(sink.nextHops, routeHop{ref: ref, cost: cost})
		return
	}
	oldest := 0
	oldestTime := c.neighborLastActive(sink.nextHops[0].ref)
	for i := 1; i < len(sink.nextHops); i++ {
		t := c.neighborLastActive(sink.nextHops[i].ref)
		if t.Before(oldestTime) {
			oldest = i
			oldestTime = t
		}
	}
	sink.nextHops[oldest] = routeHop{ref: ref, cost: cost}
}

// updateRoute implements route discovery (§4.3): allocate a sink slot if
// new, upsert the neighbour that delivered this packet, and record it as a
// next-hop candidate if it beats the sink's advertised cost.
func (c *Conn) updateRoute(sinkAddr wire.Addr, from wire.Addr, hops int) *Sink {
	idx := c.findSinkIndex(sinkAddr)
	if idx < 0 {
		allocated, ok := c.allocSinkIndex(sinkAddr)
		if !ok {
			if c.metrics != nil {
				c.metrics.IncSinkEviction()
			}
			if c.log != nil {
				c.log.Warn("sink table full, discarding route", logging.String("sink", sinkAddr.String()))
			}
			return nil
		}
		idx = allocated
		if from.IsNull() {
			c.sinks[idx].advertisedCost = 0
		} else {
			c.sinks[idx].advertisedCost = hops + 1
		}
	}

	if !from.IsNull() {
		ref := c.touchNeighbor(from)
		if !c.hasNextHop(&c.sinks[idx], ref.index) && hops < c.sinks[idx].advertisedCost {
			c.addNextHop(&c.sinks[idx], ref, hops)
		}
	}
	return &c.sinks[idx]
}

// nextHop picks the next-hop candidate minimizing (cost, freshness,
// ordinal position), excluding prevHop and anything strictly cheaper than
// it (§4.3 Next-hop selection). It reports false if the sink is revoked
// past the window or no eligible alternate remains.
func (c *Conn) nextHop(sink *Sink, prevHop *neighborRef) (neighborRef, bool) {
	now := c.clock.Now()
	if sink.revoked.State(now, c.cfg.RevokePeriod) != existance.Known {
		return neighborRef{}, false
	}

	prevCost := -1
	if prevHop != nil {
		for _, nh := range sink.nextHops {
			if nh.ref == *prevHop {
				prevCost = nh.cost
				break
			}
		}
	}

	best := -1
	for i, nh := range sink.nextHops {
		if prevHop != nil && nh.ref == *prevHop {
			continue
		}
		if prevCost >= 0 && nh.cost < prevCost {
			continue
		}
		if _, ok := c.neighborAddr(nh.ref); !ok {
			continue // stale reference: the neighbour slot was reused
		}
		if best == -1 {
			best = i
			continue
		}
		bestNh := sink.nextHops[best]
		if nh.cost != bestNh.cost {
			if nh.cost < bestNh.cost {
				best = i
			}
			continue
		}
		if c.neighborLastActive(nh.ref).After(c.neighborLastActive(bestNh.ref)) {
			best = i
		}
	}
	if best == -1 {
		return neighborRef{}, false
	}
	return sink.nextHops[best].ref, true
}
