// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

// PositionUpdater derives the Offset of every node from the Pos values
// below the node it is run on.
type PositionUpdater struct {
	// Base is the offset of the node the updater is run on.
	Base uint64
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *PositionUpdater) Run(n *Node) error {
	n.Offset = v.Base
	return n.Apply(v)
}

// Visit positions the children of n.
func (v *PositionUpdater) Visit(n *Node) error {
	base := n.Offset + uint64(len(n.Header))
	inCompressed := n.InCompressed
	if n.HasDecodedStream() {
		// Decoded streams start over at zero.
		base = 0
		inCompressed = true
	}
	for _, c := range n.Children {
		c.Offset = base + c.Pos
		c.InCompressed = inCompressed
	}
	return n.ApplyChildren(v)
}

// UpdatePositions recomputes absolute offsets for the whole tree below
// root, which is placed at offset 0.
func UpdatePositions(root *Node) {
	// Visit never fails.
	_ = (&PositionUpdater{}).Run(root)
}
