// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

// Package geoannotate provides best-effort country annotation for
// fully-specified IPv4 prefixes surfaced by the rate monitor's dump
// handler.
package geoannotate

import (
	"log/slog"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

const (
	defaultCacheSize = 4096
	unknown          = "UNKNOWN"
)

// Lookup resolves the country of a fully-specified IPv4 host address,
// caching results in an LRU. A nil *Lookup is valid and always reports
// "UNKNOWN" (used when no GeoIP database is configured).
type Lookup struct {
	mu    sync.RWMutex
	db    *geoip2.Reader
	cache *hostCache
}

// Open opens the MaxMind GeoLite2-Country database at path. If
// cacheSize <= 0, defaultCacheSize is used.
func Open(path string, cacheSize int) (*Lookup, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	slog.Debug("opening geoip database", "path", path, "cache_size", cacheSize)
	db, err := geoip2.Open(path)
	if err != nil {
		slog.Error("geoip database open failed", "path", path, "err", err)
		return nil, err
	}
	slog.Info("geoip database opened", "path", path)
	return &Lookup{db: db, cache: newHostCache(cacheSize)}, nil
}

// Close releases the underlying database handle. Safe to call on a nil
// receiver or after a prior Close.
func (l *Lookup) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Country returns the ISO country code for a fully-specified IPv4 host
// address, or "UNKNOWN" if no database is configured, the address is
// private/unroutable, or the lookup fails.
func (l *Lookup) Country(addr [4]byte) string {
	if l == nil {
		return unknown
	}
	if cc, ok := l.cache.get(addr); ok {
		return cc
	}
	l.mu.RLock()
	db := l.db
	l.mu.RUnlock()
	if db == nil {
		return unknown
	}
	record, err := db.Country(net.IP(addr[:]))
	if err != nil {
		slog.Debug("geoip country lookup failed", "addr", net.IP(addr[:]).String(), "err", err)
		l.cache.put(addr, unknown)
		return unknown
	}
	cc := unknown
	if record.Country.IsoCode != "" {
		cc = record.Country.IsoCode
	}
	l.cache.put(addr, cc)
	return cc
}
