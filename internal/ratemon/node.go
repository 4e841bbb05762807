// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 GeoIP Exporter Contributors

package ratemon

import "unsafe"

// fanout is the number of distinct values an address octet can take.
const fanout = 256

// maxDepth bounds how many octets of an IPv4 address the tree will
// ever specialize on.
const maxDepth = 4

// Node is one level of the prefix tree: 256 counter slots, one per
// possible byte value at this depth. The root Node has a nil parent
// and is never linked into the age list; every other Node is created
// when its owning Counter is zoomed in on and lives on the monitor's
// age list until it is folded away or the monitor is reset.
type Node struct {
	counters [fanout]*Counter

	// parent is the Counter whose zoom-in created this node. Nil only
	// for the root.
	parent *Counter

	// prev and next link this node into the monitor's age list in
	// allocation order. Nil for the root and for unlinked nodes.
	prev, next *Node
}

var (
	sizeofNode    = uint64(unsafe.Sizeof(Node{}))
	sizeofCounter = uint64(unsafe.Sizeof(Counter{}))
)

func newNode(parent *Counter) *Node {
	return &Node{parent: parent}
}
