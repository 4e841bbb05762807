// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package ratemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipv4Packet(src, dst [4]byte, totalLen uint16, leading int) []byte {
	buf := make([]byte, leading+20)
	h := buf[leading:]
	h[0] = 0x45 // version 4, IHL 5
	h[2] = byte(totalLen >> 8)
	h[3] = byte(totalLen)
	copy(h[12:16], src[:])
	copy(h[16:20], dst[:])
	return buf
}

func TestParseIPv4(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{192, 168, 1, 1}
	data := ipv4Packet(src, dst, 1500, 4)

	h, ok := parseIPv4(data, 4)
	require.True(t, ok)
	assert.Equal(t, src, h.src)
	assert.Equal(t, dst, h.dst)
	assert.EqualValues(t, 1500, h.totalLen)
	assert.Equal(t, 20, h.headerLen)
}

func TestParseIPv4TooShort(t *testing.T) {
	_, ok := parseIPv4([]byte{0x45, 0x00}, 0)
	assert.False(t, ok)
}

func TestParseIPv4WrongVersion(t *testing.T) {
	data := ipv4Packet([4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 40, 0)
	data[0] = 0x60 // IPv6
	_, ok := parseIPv4(data, 0)
	assert.False(t, ok)
}

func TestRawPacketAnnotation(t *testing.T) {
	p := &RawPacket{Data: []byte{1, 2, 3}}
	assert.Zero(t, p.Annotation())
	p.SetAnnotation(4)
	assert.EqualValues(t, 4, p.Annotation())
	assert.Equal(t, []byte{1, 2, 3}, p.Bytes())
}
