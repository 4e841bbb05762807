// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package ratemon

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ratemon/ratemon/internal/geoannotate"
)

// SampleKind selects what a Monitor counts: raw packets or their
// IPv4 total-length byte count.
type SampleKind int

const (
	CountPackets SampleKind = iota
	CountBytes
)

func (k SampleKind) String() string {
	if k == CountBytes {
		return "byte"
	}
	return "packet"
}

// ParseSampleKind parses the "type" configuration value ("packet" or
// "byte").
func ParseSampleKind(s string) (SampleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "packet", "packets", "":
		return CountPackets, nil
	case "byte", "bytes":
		return CountBytes, nil
	default:
		return 0, fmt.Errorf("ratemon: invalid sample type %q: must be \"packet\" or \"byte\"", s)
	}
}

// memMaxMinKiB is the smallest non-zero memory ceiling the monitor
// will accept; smaller values are rounded up to it. The original
// element enforces an analogous floor so a mistyped, tiny memmax
// doesn't make the tree permanently useless.
const memMaxMinKiB = 4

const (
	// foldFactor is the fraction of currently allocated memory an
	// unbounded fold call aims to keep; it sheds the rest.
	foldFactor = 0.9
	// foldIncreaseFactor bounds how aggressively forced_fold raises
	// its working threshold each iteration.
	foldIncreaseFactor = 5.0
	// ewmaIntervalTicks sets the averaging window width, in ticks, for
	// every EWMA the monitor creates.
	ewmaIntervalTicks = 5
)

// Config holds a Monitor's construction parameters. NewMonitor keeps
// its own copy; of that copy, only MemMaxKiB changes afterward (via
// SetMemMax, under the monitor lock).
type Config struct {
	// Kind selects packet-count or byte-count sampling.
	Kind SampleKind
	// Offset is the byte offset of the IPv4 header within each
	// packet's raw bytes.
	Offset uint
	// Ratio is the fraction of packets whose forward/reverse EWMA
	// gets updated on push; pull always samples every packet.
	Ratio Ratio
	// Threshold is the pre-ratio-scaling zoom-in threshold, compared
	// against a counter's raw (fixed-point scaled) EWMA average.
	Threshold uint64
	// MemMaxKiB caps allocated tree memory; 0 means unbounded.
	MemMaxKiB uint64
	// Annotate enables the annotation byte side channel.
	Annotate bool
	// GeoIPDBPath, if non-empty, is opened for country annotation of
	// leaf dump lines.
	GeoIPDBPath string
}

// Monitor is a hierarchical IPv4 traffic rate tree: it buckets
// addresses by octet, zooming in on any bucket whose traffic exceeds
// a threshold and folding cold subtrees away to respect a memory cap.
// All mutable state is guarded by mu except resetTick, which is read
// without the lock by the non-blocking look handler.
type Monitor struct {
	cfg   Config
	ports int
	clock Clock
	geo   *geoannotate.Lookup

	mu             sync.Mutex
	root           *Node
	ages           ageList
	allocatedBytes uint64
	threshEff      uint64

	resetTick atomic.Uint64
}

// NewMonitor constructs a Monitor. ports is 1 or 2: with 2 ports,
// port 0 traffic is forward and port 1 is reverse; with 1 port every
// packet is treated as forward. Either way a packet's destination
// counters take the mirror update, so a forward packet adds to the
// reverse rate of its destination-address counters.
func NewMonitor(cfg Config, ports int, clock Clock) (*Monitor, error) {
	if ports != 1 && ports != 2 {
		return nil, fmt.Errorf("ratemon: ports must be 1 or 2, got %d", ports)
	}
	if cfg.Ratio == 0 {
		cfg.Ratio = RatioScale
	}
	if cfg.MemMaxKiB > 0 && cfg.MemMaxKiB < memMaxMinKiB {
		cfg.MemMaxKiB = memMaxMinKiB
	}
	var geo *geoannotate.Lookup
	if cfg.GeoIPDBPath != "" {
		g, err := geoannotate.Open(cfg.GeoIPDBPath, 0)
		if err != nil {
			return nil, fmt.Errorf("ratemon: opening geoip database: %w", err)
		}
		geo = g
	}
	m := &Monitor{
		cfg:            cfg,
		ports:          ports,
		clock:          clock,
		geo:            geo,
		root:           newNode(nil),
		allocatedBytes: sizeofNode,
	}
	// Threshold is rescaled by ratio up front so later comparisons can
	// use the raw EWMA average as-is: only `ratio` of samples reach
	// Update, so the bar for "busy enough to zoom in" is lowered
	// proportionally.
	m.threshEff = cfg.Ratio.Scale(cfg.Threshold)
	return m, nil
}

// Close releases resources held by the monitor (currently just an
// optional GeoIP database handle).
func (m *Monitor) Close() error {
	return m.geo.Close()
}

func sampleValue(kind SampleKind, h header) uint64 {
	if kind == CountBytes {
		return uint64(h.totalLen)
	}
	return 1
}

func sampleRatio(r Ratio) bool {
	if r >= RatioScale {
		return true
	}
	return uint32(rand.Int31n(RatioScale)) < uint32(r)
}

// Push processes a packet arriving on an input port, updating rates
// with probability cfg.Ratio. The caller is responsible for forwarding
// the (possibly now-annotated) packet on; Push never drops it.
func (m *Monitor) Push(port int, p Packet) error {
	if port < 0 || port >= m.ports {
		return fmt.Errorf("ratemon: invalid port %d", port)
	}
	forward := m.ports == 1 || port == 0
	doEwma := sampleRatio(m.cfg.Ratio)
	m.mu.Lock()
	m.updateRates(p, forward, doEwma)
	m.mu.Unlock()
	return nil
}

// Pull processes a packet already pulled from an input port. Every
// packet on the pull path is sampled.
func (m *Monitor) Pull(port int, p Packet) error {
	if port < 0 || port >= m.ports {
		return fmt.Errorf("ratemon: invalid port %d", port)
	}
	forward := m.ports == 1 || port == 0
	m.mu.Lock()
	m.updateRates(p, forward, true)
	m.mu.Unlock()
	return nil
}

// updateRates walks the src-address path and the dst-address path
// independently (both start at root), updating whichever counters
// they encounter and zooming in or annotating along the way. Must be
// called with mu held.
func (m *Monitor) updateRates(p Packet, forward, doEwma bool) {
	h, ok := parseIPv4(p.Bytes(), m.cfg.Offset)
	if !ok {
		return
	}
	sample := sampleValue(m.cfg.Kind, h)
	now := m.clock.Now()

	srcNode, dstNode := m.root, m.root
	for level := 0; level < maxDepth; level++ {
		if srcNode == nil && dstNode == nil {
			break
		}
		var c1, c2 *Counter
		if srcNode != nil {
			c1 = m.fetchOrAllocate(srcNode, h.src[level], doEwma)
		}
		if dstNode != nil {
			c2 = m.fetchOrAllocate(dstNode, h.dst[level], doEwma)
		}

		if doEwma {
			if c1 != nil {
				if forward {
					c1.fwd.Update(now, sample)
				} else {
					c1.rev.Update(now, sample)
				}
			}
			if c2 != nil {
				if forward {
					c2.rev.Update(now, sample)
				} else {
					c2.fwd.Update(now, sample)
				}
			}
		}

		if m.cfg.Annotate {
			if (c1 != nil && c1.annotated(now)) || (c2 != nil && c2.annotated(now)) {
				p.SetAnnotation(byte(level + 1))
				break
			}
		}

		if doEwma && level < maxDepth-1 {
			if c1 != nil && c1.child == nil && m.crossesThresh(c1) {
				m.zoomIn(c1)
			}
			if c2 != nil && c2.child == nil && m.crossesThresh(c2) {
				m.zoomIn(c2)
			}
		}

		if c1 != nil {
			srcNode = c1.child
		} else {
			srcNode = nil
		}
		if c2 != nil {
			dstNode = c2.child
		} else {
			dstNode = nil
		}
	}
}

func (m *Monitor) crossesThresh(c *Counter) bool {
	return c.fwd.Average() > m.threshEff || c.rev.Average() > m.threshEff
}

// fetchOrAllocate returns the counter for index within node,
// allocating it if absent, memory allows, and doEwma is true. Must be
// called with mu held.
func (m *Monitor) fetchOrAllocate(node *Node, index byte, doEwma bool) *Counter {
	if c := node.counters[index]; c != nil {
		return c
	}
	if !doEwma {
		return nil
	}
	if !m.reserve(sizeofCounter) {
		return nil
	}
	c := newCounter(m.clock.Freq(), ewmaIntervalTicks, node.parent)
	node.counters[index] = c
	return c
}

// zoomIn allocates a child node for c, specializing the next address
// octet. Must be called with mu held.
func (m *Monitor) zoomIn(c *Counter) {
	if !m.reserve(sizeofNode) {
		return
	}
	n := newNode(c)
	c.child = n
	m.ages.append(n)
}

// reserve accounts for n additional bytes of tree memory, refusing
// the allocation (and leaving allocatedBytes unchanged) if it would
// exceed the configured memmax.
func (m *Monitor) reserve(n uint64) bool {
	if m.cfg.MemMaxKiB > 0 && m.allocatedBytes+n > m.cfg.MemMaxKiB*1024 {
		return false
	}
	m.allocatedBytes += n
	return true
}

// Reset discards the entire tree, keeping the root but freeing every
// bucket and child node beneath it.
func (m *Monitor) Reset() {
	m.mu.Lock()
	for i := range m.root.counters {
		c := m.root.counters[i]
		if c == nil {
			continue
		}
		if c.child != nil {
			m.allocatedBytes -= m.destroySubtree(c.child)
		}
		m.root.counters[i] = nil
		m.allocatedBytes -= sizeofCounter
	}
	m.ages = ageList{}
	m.mu.Unlock()
	m.resetTick.Store(m.clock.Now())
}

// destroySubtree recursively frees n, every counter it holds, and
// every node reachable beneath it, unlinking each from the age list
// along the way, and returns total bytes freed. n is unlinked from
// the age list last, after every descendant: a descendant can be n's
// immediate age-list neighbor (an allocation-order coincidence, e.g.
// a single flow zooming in through consecutive octets back to back),
// and removing descendants first ensures n's own prev/next already
// point past anything this call is also destroying by the time n
// itself is spliced out. A caller that resumes iteration from n.next
// or n.prev *after* this call returns therefore always lands on a
// node this call did not already destroy.
func (m *Monitor) destroySubtree(n *Node) uint64 {
	freed := sizeofNode
	for i := range n.counters {
		c := n.counters[i]
		if c == nil {
			continue
		}
		if c.child != nil {
			freed += m.destroySubtree(c.child)
		}
		n.counters[i] = nil
		freed += sizeofCounter
	}
	m.ages.remove(n)
	if n.parent != nil {
		n.parent.child = nil
	}
	return freed
}

// SetAnnoLevel arms (or, with seconds==0, disarms) the annotation
// window for the counter reached by walking addr's octets down to the
// given level (0-3, the same zero-based depth index the packet path
// stamps as level+1 into the annotation byte). If a counter along the
// path doesn't exist yet, it is allocated (subject to the memory
// cap).
func (m *Monitor) SetAnnoLevel(addr [4]byte, level int, seconds uint64) error {
	if level < 0 || level >= maxDepth {
		return fmt.Errorf("ratemon: invalid annotation level %d: must be 0-%d", level, maxDepth-1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.root
	var c *Counter
	for i := 0; i <= level; i++ {
		if node == nil {
			return fmt.Errorf("ratemon: could not allocate a node at depth %d (memory cap reached)", i)
		}
		c = m.fetchOrAllocate(node, addr[i], true)
		if c == nil {
			return fmt.Errorf("ratemon: could not allocate a counter at depth %d (memory cap reached)", i)
		}
		if i < level && c.child == nil {
			// Operator-directed: allocate the intervening node
			// unconditionally, bypassing the threshold-crossing gate
			// that normally drives zoom-in.
			m.zoomIn(c)
			if c.child == nil {
				return fmt.Errorf("ratemon: could not allocate a node at depth %d (memory cap reached)", i+1)
			}
		}
		node = c.child
	}
	if seconds == 0 {
		c.annoTick = 0
		return nil
	}
	c.annoTick = m.clock.Now() + seconds*m.clock.Freq()
	return nil
}

// AllocatedBytes reports current tree memory usage.
func (m *Monitor) AllocatedBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocatedBytes
}

// Threshold reports the effective (ratio-scaled) zoom-in threshold.
func (m *Monitor) Threshold() uint64 {
	return m.threshEff
}

// MemMaxKiB reports the configured memory ceiling in KiB, 0 meaning
// unbounded.
func (m *Monitor) MemMaxKiB() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.MemMaxKiB
}

// SetMemMax updates the memory ceiling. If the new ceiling is below
// current usage, a forced fold immediately evicts cold subtrees until
// usage fits (or the tree is exhausted).
func (m *Monitor) SetMemMax(kib uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kib > 0 && kib < memMaxMinKiB {
		kib = memMaxMinKiB
	}
	m.cfg.MemMaxKiB = kib
	if kib == 0 {
		return
	}
	targetBytes := kib * 1024
	if m.allocatedBytes <= targetBytes {
		return
	}
	m.forcedFold(targetBytes)
}

// forcedFold repeatedly folds with an escalating threshold until
// allocated memory fits within targetBytes or the tree is exhausted.
// Must be called with mu held. The threshold step is floored at 1 so
// it always makes progress even when threshEff is tiny, guaranteeing
// termination.
func (m *Monitor) forcedFold(targetBytes uint64) {
	thresh := m.threshEff
	for m.allocatedBytes > targetBytes && !m.ages.empty() {
		m.fold(thresh, targetBytes)
		step := uint64(float64(thresh) / foldIncreaseFactor)
		if step < 1 {
			step = 1
		}
		thresh += step
	}
}

// fold walks the age list evicting subtrees whose owning counter has
// gone cold on both directions, stopping once allocated memory is at
// or below target. Direction is randomized to avoid always punishing
// the same end of the list. Must be called with mu held.
func (m *Monitor) fold(threshNow uint64, target uint64) {
	now := m.clock.Now()
	fromHead := rand.Intn(2) == 0
	var cur *Node
	if fromHead {
		cur = m.ages.first
	} else {
		cur = m.ages.last
	}
	for cur != nil && m.allocatedBytes > target {
		parent := cur.parent

		parent.fwd.Update(now, 0)
		cold := parent.fwd.Average() < threshNow
		if cold {
			parent.rev.Update(now, 0)
			cold = parent.rev.Average() < threshNow
		}
		if cold {
			m.allocatedBytes -= m.destroySubtree(cur)
		}

		// Read the resume pointer only now, after any destruction:
		// destroySubtree already unlinked cur (and, transitively, any
		// of cur's own descendants) from the age list, so cur.next/
		// cur.prev are guaranteed live at this point. Capturing them
		// beforehand would risk resuming on a node destroySubtree just
		// destroyed as one of cur's descendants.
		if fromHead {
			cur = cur.next
		} else {
			cur = cur.prev
		}
	}
}

// FoldIdle proactively evicts cold subtrees, aiming to reclaim about
// 10% of currently allocated tree memory even absent memmax pressure.
// Operators can wire this to a periodic housekeeping tick; the
// monitor never calls it on its own.
func (m *Monitor) FoldIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocatedBytes == 0 {
		return
	}
	target := uint64(float64(m.allocatedBytes) * foldFactor)
	m.fold(m.threshEff, target)
}

// secondsSinceReset returns whole seconds elapsed since the last
// Reset (or construction), read without the monitor lock so the
// look handler can report it even when contended.
func (m *Monitor) secondsSinceReset() uint64 {
	now := m.clock.Now()
	reset := m.resetTick.Load()
	if now < reset {
		return 0
	}
	freq := m.clock.Freq()
	if freq == 0 {
		freq = 1
	}
	return (now - reset) / freq
}

