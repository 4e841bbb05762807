// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package main

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket/pcapgo"

	"github.com/ratemon/ratemon/internal/ratemon"
)

// sample is one packet pulled from a source, tagged with the port it
// should be pushed on.
type sample struct {
	pkt  *ratemon.RawPacket
	port int
}

// packetSource yields packets for the demo host to push through the
// monitor. Next returns ok=false once the source is exhausted.
type packetSource interface {
	Next() (sample, bool, error)
	Close() error
}

// newPacketSource builds a source from the -source flag: "synthetic"
// generates traffic among a small fixed set of hosts; "pcap:<path>"
// replays a capture file, treating every packet as forward traffic.
func newPacketSource(spec string, offset uint) (packetSource, error) {
	switch {
	case spec == "" || spec == "synthetic":
		return newSyntheticSource(), nil
	case strings.HasPrefix(spec, "pcap:"):
		return newPcapSource(strings.TrimPrefix(spec, "pcap:"), offset)
	default:
		return nil, fmt.Errorf("unknown source %q: want \"synthetic\" or \"pcap:<path>\"", spec)
	}
}

// syntheticSource emits a mix of steady traffic between a handful of
// "elephant" host pairs (to demonstrate zoom-in) and scattered traffic
// among many distinct hosts (to demonstrate the memory cap and fold).
type syntheticSource struct {
	rng   *rand.Rand
	count int
}

func newSyntheticSource() *syntheticSource {
	return &syntheticSource{rng: rand.New(rand.NewSource(1))}
}

var elephants = [][2][4]byte{
	{{10, 0, 0, 1}, {10, 0, 0, 2}},
	{{10, 0, 0, 1}, {172, 16, 0, 9}},
}

func (s *syntheticSource) Next() (sample, bool, error) {
	s.count++
	var src, dst [4]byte
	if s.rng.Intn(4) != 0 {
		pair := elephants[s.rng.Intn(len(elephants))]
		src, dst = pair[0], pair[1]
	} else {
		src = [4]byte{byte(s.rng.Intn(256)), byte(s.rng.Intn(256)), byte(s.rng.Intn(256)), byte(s.rng.Intn(256))}
		dst = [4]byte{byte(s.rng.Intn(256)), byte(s.rng.Intn(256)), byte(s.rng.Intn(256)), byte(s.rng.Intn(256))}
	}
	data := buildIPv4(src, dst, uint16(64+s.rng.Intn(1400)))
	port := 0
	if s.rng.Intn(2) == 1 {
		port = 1
	}
	time.Sleep(time.Millisecond)
	return sample{pkt: &ratemon.RawPacket{Data: data}, port: port}, true, nil
}

func (s *syntheticSource) Close() error { return nil }

func buildIPv4(src, dst [4]byte, totalLen uint16) []byte {
	b := make([]byte, 20)
	b[0] = 0x45
	b[2] = byte(totalLen >> 8)
	b[3] = byte(totalLen)
	copy(b[12:16], src[:])
	copy(b[16:20], dst[:])
	return b
}

// pcapSource replays a capture file, treating every frame as forward
// traffic on port 0. It does not attempt to strip link-layer framing
// itself; point -offset at the IPv4 header's byte offset within the
// captured frame (14 for plain Ethernet).
type pcapSource struct {
	f *os.File
	r *pcapgo.Reader
}

func newPcapSource(path string, _ uint) (*pcapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pcap %q: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading pcap header %q: %w", path, err)
	}
	return &pcapSource{f: f, r: r}, nil
}

func (s *pcapSource) Next() (sample, bool, error) {
	data, _, err := s.r.ReadPacketData()
	if err != nil {
		return sample{}, false, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return sample{pkt: &ratemon.RawPacket{Data: buf}, port: 0}, true, nil
}

func (s *pcapSource) Close() error { return s.f.Close() }
