// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package ratemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCounterSeedsFromParent(t *testing.T) {
	parent := newCounter(1000, 5, nil)
	parent.fwd.Update(1000, 500)
	parent.rev.Update(1000, 20)

	child := newCounter(1000, 5, parent)
	assert.Equal(t, parent.fwd.Average(), child.fwd.Average(), "a seeded counter starts warm from its parent's rate")
	assert.Equal(t, parent.rev.Average(), child.rev.Average())
	assert.Equal(t, parent.fwd.lastTick, child.fwd.lastTick, "lastTick must travel with avg or the next Update sees a fake elapsed-tick gap back to zero")
	assert.Equal(t, parent.rev.lastTick, child.rev.lastTick)

	// The parent counter was already updated well past ewmaMaxZeroPeriod
	// ticks ago. If the child's lastTick weren't seeded too, folding in
	// one more sample immediately afterward would see a huge fake
	// elapsed gap back to tick 0 and wipe the seeded average to zero
	// before the sample is even folded in.
	child.fwd.Update(1001, 500)
	assert.NotZero(t, child.fwd.Average(), "seeding must survive the very next Update call")
}

func TestNewCounterUnseededStartsAtZero(t *testing.T) {
	c := newCounter(1000, 5, nil)
	require.Zero(t, c.fwd.Average())
	require.Zero(t, c.rev.Average())
}

func TestCounterAnnotated(t *testing.T) {
	c := newCounter(1000, 5, nil)
	assert.False(t, c.annotated(100))
	c.annoTick = 200
	assert.True(t, c.annotated(100))
	assert.False(t, c.annotated(200), "the window closes at exactly the deadline")
}

func TestNodeStructZero(t *testing.T) {
	n := newNode(nil)
	for _, c := range n.counters {
		assert.Nil(t, c)
	}
	assert.Nil(t, n.parent)
	assert.Nil(t, n.prev)
	assert.Nil(t, n.next)
}
