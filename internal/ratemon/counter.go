// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package ratemon

// Counter is the per-address-octet bucket of the rate tree. It holds
// an independent forward and reverse rate estimate for whatever
// prefix its slot represents, an optional child Node that specializes
// the next octet once this bucket has been zoomed in on, and an
// annotation deadline set by anno_level.
type Counter struct {
	fwd EWMA
	rev EWMA

	child *Node

	// annoTick is the tick until which packets touching this counter
	// get their annotation byte stamped. Zero means "inactive".
	annoTick uint64
}

func newCounter(freq, intervalTicks uint64, seed *Counter) *Counter {
	c := &Counter{
		fwd: NewEWMA(freq, intervalTicks),
		rev: NewEWMA(freq, intervalTicks),
	}
	if seed != nil {
		// Warm-start from the parent's current rate estimate rather
		// than from zero: a slot that just earned a child node is by
		// definition already busy. lastTick has to travel with avg,
		// or the first Update on the new counter sees a huge fake
		// elapsed-tick gap back to tick 0 and immediately decays the
		// seeded value away.
		c.fwd.avg = seed.fwd.avg
		c.fwd.lastTick = seed.fwd.lastTick
		c.rev.avg = seed.rev.avg
		c.rev.lastTick = seed.rev.lastTick
	}
	return c
}

// annotated reports whether the counter has a live annotation window
// as of tick now.
func (c *Counter) annotated(now uint64) bool {
	return c.annoTick > now
}
