// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package ratemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEWMAZeroAtStart(t *testing.T) {
	e := NewEWMA(1000, 5)
	require.Zero(t, e.Average())
}

func TestEWMAConvergesTowardSteadyInput(t *testing.T) {
	e := NewEWMA(1000, 5)
	var last uint64
	for tick := uint64(1); tick <= 500; tick++ {
		e.Update(tick, 10)
		require.GreaterOrEqual(t, e.Average(), last, "average must not decrease under a constant positive input")
		last = e.Average()
	}
	// After many ticks of a constant sample the average should sit
	// close to sample*scale.
	want := uint64(10) * uint64(e.Scale())
	got := e.Average()
	assert.InDelta(t, float64(want), float64(got), float64(want)*0.05)
}

func TestEWMADecaysOnIdle(t *testing.T) {
	e := NewEWMA(1000, 5)
	e.Update(1, 100)
	before := e.Average()
	require.NotZero(t, before)
	e.Update(50, 0)
	after := e.Average()
	assert.Less(t, after, before, "a long idle gap must decay the average toward zero")
}

func TestEWMALongIdleResetsToZero(t *testing.T) {
	e := NewEWMA(1000, 5)
	e.Update(1, 1000)
	require.NotZero(t, e.Average())
	e.Update(1_000_000, 0)
	assert.Zero(t, e.Average(), "an elapsed gap far beyond the max zero period collapses to zero")
}

func TestEWMASameTickFoldsRepeatedly(t *testing.T) {
	e := NewEWMA(1000, 5)
	e.Update(10, 5)
	first := e.Average()
	e.Update(10, 5)
	second := e.Average()
	assert.Greater(t, second, first, "repeated updates at the same tick keep folding in the sample")
}

func TestEWMARateScalesByFreq(t *testing.T) {
	e := NewEWMA(2000, 5)
	e.Update(1, 100)
	assert.Equal(t, e.Average()*2000, e.Rate())
}

func TestFormatFixed(t *testing.T) {
	cases := []struct {
		value uint64
		scale uint32
		want  string
	}{
		{0, 1024, "0"},
		{1024, 1024, "1"},
		{1536, 1024, "1.5"},
		{100, 1024, "0.097"},
		{5, 0, "5"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatFixed(c.value, c.scale))
	}
}
