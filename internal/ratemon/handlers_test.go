// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package ratemon

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlersReadThreshMemAndMemMax(t *testing.T) {
	m, _ := newTestMonitor(t, Config{Threshold: 1000, MemMaxKiB: 64}, 2)
	reads, _ := m.Handlers()

	thresh, err := reads["thresh"]()
	require.NoError(t, err)
	assert.Equal(t, "1000\n", thresh)

	mem, err := reads["mem"]()
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatUint(sizeofNode, 10)+"\n", mem, "mem reports bytes, including the always-resident root node")

	memmax, err := reads["memmax"]()
	require.NoError(t, err)
	assert.Equal(t, "65536\n", memmax, "memmax reports bytes, not KiB")
}

func TestHandlersWriteMemMax(t *testing.T) {
	m, _ := newTestMonitor(t, Config{Threshold: 1, MemMaxKiB: 64}, 2)
	_, writes := m.Handlers()

	require.NoError(t, writes["memmax"]("32"))
	assert.Equal(t, uint64(32), m.MemMaxKiB())

	assert.Error(t, writes["memmax"]("not-a-number"))
}

func TestHandlersWriteResetInvokesReset(t *testing.T) {
	m, clock := newTestMonitor(t, Config{Threshold: 1}, 2)
	require.NoError(t, m.Push(0, pkt([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8})))
	clock.Advance(1)
	require.NotZero(t, m.AllocatedBytes())

	_, writes := m.Handlers()
	require.NoError(t, writes["reset"](""))
	assert.Equal(t, sizeofNode, m.AllocatedBytes())
}

func TestHandlersWriteAnnoLevel(t *testing.T) {
	m, clock := newTestMonitor(t, Config{Threshold: 1, Annotate: true}, 2)
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{10, 0, 0, 2}
	require.NoError(t, m.Push(0, pkt(src, dst)))
	clock.Advance(1)

	_, writes := m.Handlers()
	require.NoError(t, writes["anno_level"]("10.0.0.1 0 30"))

	p := pkt(src, dst)
	require.NoError(t, m.Push(0, p))
	assert.EqualValues(t, 1, p.Annotation())
}

func TestHandlersWriteAnnoLevelRejectsMalformedArgs(t *testing.T) {
	m, _ := newTestMonitor(t, Config{Threshold: 1}, 2)
	_, writes := m.Handlers()
	assert.Error(t, writes["anno_level"]("not enough fields"))
	assert.Error(t, writes["anno_level"]("bad.address 1 30"))
	assert.Error(t, writes["anno_level"]("10.0.0.1 1 not-a-number"))
}

func TestLookDumpFormat(t *testing.T) {
	m, clock := newTestMonitor(t, Config{Threshold: RatioScale * 1_000_000}, 2) // effectively no zoom-in
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{192, 168, 1, 1}
	require.NoError(t, m.Push(0, pkt(src, dst)))
	clock.Advance(1)

	reads, _ := m.Handlers()
	out, err := reads["look"]()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3, "header plus one line each for src[0] and dst[0]")
	assert.NotContains(t, lines[0], "\t", "the header carries only the seconds-since-reset count")

	found10 := false
	for _, l := range lines[1:] {
		if strings.HasPrefix(l, "10\t") {
			found10 = true
			fields := strings.Split(l, "\t")
			assert.Len(t, fields, 3, "no geoip column configured, so exactly ip/fwd/rev")
		}
	}
	assert.True(t, found10, "expected a top-level line for the src octet 10")
}
