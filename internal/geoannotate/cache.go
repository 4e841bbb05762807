// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

// Package geoannotate provides best-effort country annotation for
// fully-specified IPv4 prefixes surfaced by the rate monitor's dump
// handler.
package geoannotate

import (
	"container/list"
	"sync"
)

// hostCache is a fixed-capacity, least-recently-used cache from a single
// host address to its resolved country code. Adapted from the
// prefix-keyed LRU cache used to memoize GeoIP country lookups.
type hostCache struct {
	mu   sync.Mutex
	cap  int
	list *list.List
	m    map[[4]byte]*list.Element
}

type cacheEntry struct {
	key [4]byte
	val string
}

func newHostCache(cap int) *hostCache {
	return &hostCache{
		cap:  cap,
		list: list.New(),
		m:    make(map[[4]byte]*list.Element, cap),
	}
}

func (c *hostCache) get(k [4]byte) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[k]; ok {
		c.list.MoveToFront(e)
		return e.Value.(*cacheEntry).val, true
	}
	return "", false
}

func (c *hostCache) put(k [4]byte, v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[k]; ok {
		e.Value.(*cacheEntry).val = v
		c.list.MoveToFront(e)
		return
	}
	if c.list.Len() >= c.cap {
		if old := c.list.Back(); old != nil {
			c.list.Remove(old)
			delete(c.m, old.Value.(*cacheEntry).key)
		}
	}
	e := c.list.PushFront(&cacheEntry{key: k, val: v})
	c.m[k] = e
}
