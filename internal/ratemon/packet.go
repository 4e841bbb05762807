// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package ratemon

// Packet is the host collaborator contract: the minimum a packet
// object from the surrounding processing framework must expose for
// the monitor to classify it and, if annotation is enabled, mark it.
// The packet-processing framework itself (queueing, port routing,
// checksum handling) lives entirely outside this package.
type Packet interface {
	// Bytes returns the packet's raw octets, including whatever
	// leading framing precedes the IPv4 header.
	Bytes() []byte
	// Annotation returns the current annotation byte.
	Annotation() byte
	// SetAnnotation overwrites the annotation byte.
	SetAnnotation(b byte)
}

// header is an IPv4 header parsed out of a packet at a caller-chosen
// byte offset.
type header struct {
	src, dst  [4]byte
	totalLen  uint16
	headerLen int
}

// parseIPv4 parses an IPv4 header starting at offset within data. It
// reports ok=false if data is too short or the version nibble is not
// 4; the monitor treats such packets as pass-through, unclassified
// traffic.
func parseIPv4(data []byte, offset uint) (header, bool) {
	var h header
	if uint(len(data)) < offset+20 {
		return h, false
	}
	b := data[offset:]
	if b[0]>>4 != 4 {
		return h, false
	}
	h.headerLen = int(b[0]&0x0f) * 4
	h.totalLen = uint16(b[2])<<8 | uint16(b[3])
	copy(h.src[:], b[12:16])
	copy(h.dst[:], b[16:20])
	return h, true
}

// RawPacket is a minimal Packet implementation over an in-memory byte
// slice, sufficient for tests and the demo host's synthetic and pcap
// sources.
type RawPacket struct {
	Data []byte
	Anno byte
}

func (p *RawPacket) Bytes() []byte     { return p.Data }
func (p *RawPacket) Annotation() byte  { return p.Anno }
func (p *RawPacket) SetAnnotation(b byte) { p.Anno = b }
