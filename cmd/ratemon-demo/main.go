// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ratemon/ratemon/internal/log"
	"github.com/ratemon/ratemon/internal/ratemon"
)

var (
	sampleType = flag.String("type", "packet", "What to count: \"packet\" or \"byte\"")
	offset     = flag.Uint("offset", 0, "Byte offset of the IPv4 header within each packet")
	ratio      = flag.String("ratio", "1", "Sampling ratio in (0,1] for forward/reverse EWMA updates on push")
	threshold  = flag.Uint64("threshold", 100, "Zoom-in threshold, compared against a counter's raw EWMA average")
	memmax     = flag.Uint64("memmax", 0, "Tree memory ceiling in KiB; 0 means unbounded")
	annotate   = flag.Bool("annotate", false, "Enable the annotation byte side channel")
	logLevel   = flag.String("log-level", "info", "Log level: "+log.SupportedLevels)
	geoipDB    = flag.String("geoip-db", "", "Path to a GeoLite2-Country.mmdb for country annotation on look dumps; empty disables it")
	source     = flag.String("source", "synthetic", "Packet source: \"synthetic\" or \"pcap:<path>\"")
)

func main() {
	flag.Parse()

	if err := log.Configure(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}

	kind, err := ratemon.ParseSampleKind(*sampleType)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	parsedRatio, err := ratemon.ParseRatio(*ratio)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	cfg := ratemon.Config{
		Kind:        kind,
		Offset:      *offset,
		Ratio:       parsedRatio,
		Threshold:   *threshold,
		MemMaxKiB:   *memmax,
		Annotate:    *annotate,
		GeoIPDBPath: *geoipDB,
	}
	slog.Info("starting ratemon-demo",
		"type", kind,
		"offset", cfg.Offset,
		"ratio", *ratio,
		"threshold", cfg.Threshold,
		"memmax_kib", cfg.MemMaxKiB,
		"annotate", cfg.Annotate,
		"source", *source,
	)

	ports := 2
	if strings.HasPrefix(*source, "pcap:") {
		ports = 1
	}

	clock := ratemon.NewRealClock(1000)
	mon, err := ratemon.NewMonitor(cfg, ports, clock)
	if err != nil {
		slog.Error("failed to construct monitor", "err", err)
		os.Exit(1)
	}
	defer mon.Close()

	src, err := newPacketSource(*source, cfg.Offset)
	if err != nil {
		slog.Error("failed to open packet source", "err", err)
		os.Exit(1)
	}
	defer src.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go runControlLoop(ctx, mon)

	pushed := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown requested", "packets_pushed", pushed)
			return
		default:
		}
		s, ok, err := src.Next()
		if err != nil {
			slog.Error("packet source error", "err", err)
			return
		}
		if !ok {
			slog.Info("packet source exhausted", "packets_pushed", pushed)
			return
		}
		if err := mon.Push(s.port, s.pkt); err != nil {
			slog.Warn("push failed", "port", s.port, "err", err)
			continue
		}
		pushed++
	}
}

// runControlLoop reads newline-delimited commands from stdin and
// dispatches them against the monitor's handler surface, e.g.:
//
//	look
//	thresh
//	mem
//	memmax
//	memmax 128
//	anno_level 10.0.0.1 2 30
//	reset
func runControlLoop(ctx context.Context, mon *ratemon.Monitor) {
	reads, writes := mon.Handlers()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, args, _ := strings.Cut(line, " ")
		switch {
		case args == "" && reads[name] != nil:
			out, err := reads[name]()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
				continue
			}
			fmt.Print(out)
		case writes[name] != nil:
			if err := writes[name](args); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown handler %q\n", name)
		}
	}
}
