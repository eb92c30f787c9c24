// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reconstruct serializes a layout tree back into bytes. Clean nodes
// reproduce what was parsed; dirty nodes are rebuilt from their children,
// with sizes, checksums, compressed payloads and volume geometry
// recomputed.
package reconstruct

import (
	"errors"
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// ErrCapacityExceeded is returned when rebuilt content does not fit the
// space its container may occupy.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// Options configure the reconstruction.
type Options struct {
	Compression compression.Config
}

// built is the rebuilt form of a node. Nothing is written to the tree until
// commit, so a failed reconstruction leaves the model untouched.
type built struct {
	node    *layout.Node
	rebuilt bool
	pos     uint64

	header []byte
	body   []byte
	stream []byte
	attrs  layout.Attributes
	guid   guid.GUID

	children []*built
}

func (b *built) size() uint64 {
	return uint64(len(b.header) + len(b.body))
}

func (b *built) bytes() []byte {
	out := make([]byte, 0, len(b.header)+len(b.body))
	out = append(out, b.header...)
	return append(out, b.body...)
}

func (b *built) kind() layout.Kind {
	return b.node.Kind
}

// emptyPadding reports whether b is erased filler that may be resized.
func (b *built) emptyPadding() bool {
	return b.node.Kind == layout.KindPadding && b.attrs.Empty && b.node.Subtype == 0
}

func clean(n *layout.Node) *built {
	return &built{node: n, pos: n.Pos, header: n.Header, body: n.Body, attrs: n.Attributes, guid: n.GUID}
}

// rebuildOf starts a rebuilt copy of n with the current header and body.
func rebuildOf(n *layout.Node) *built {
	b := clean(n)
	b.rebuilt = true
	b.stream = n.Uncompressed
	return b
}

type builder struct {
	opts Options
}

func (r *builder) build(n *layout.Node) (*built, error) {
	if !n.Dirty {
		return clean(n), nil
	}
	var (
		b   *built
		err error
	)
	switch n.Kind {
	case layout.KindRoot:
		b, err = r.buildRoot(n)
	case layout.KindBiosRegion:
		b, err = r.buildChain(n, true)
	case layout.KindVolume:
		b, err = r.buildVolume(n)
	case layout.KindFile, layout.KindPadFile:
		b, err = r.buildFile(n)
	case layout.KindSection:
		b, err = r.buildSection(n)
	default:
		// Descriptor, GbE, ME and PDR regions and padding are stored as
		// they are.
		b = rebuildOf(n)
	}
	if err != nil {
		return nil, fmt.Errorf("%v %v: %w", n.Kind, n.Path(), err)
	}
	return b, nil
}

func (r *builder) buildChildren(n *layout.Node) ([]*built, error) {
	out := make([]*built, 0, len(n.Children))
	for _, c := range n.Children {
		b, err := r.build(c)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// commit writes b into the tree.
func commit(b *built) {
	n := b.node
	n.Pos = b.pos
	n.Dirty = false
	if !b.rebuilt {
		return
	}
	n.Header, n.Body = b.header, b.body
	n.Uncompressed = b.stream
	n.Attributes = b.attrs
	n.GUID = b.guid
	if b.children == nil && len(n.Children) == 0 {
		return
	}
	children := make([]*layout.Node, 0, len(b.children))
	for _, c := range b.children {
		commit(c)
		children = append(children, c.node)
	}
	n.SetChildren(children)
}

// Reconstruct returns the bytes of n with every dirty node below it
// rebuilt. The tree is not modified. For the root this is the image. The
// result never aliases the tree.
func Reconstruct(n *layout.Node, opts Options) ([]byte, error) {
	b, err := (&builder{opts: opts}).build(n)
	if err != nil {
		return nil, err
	}
	if n.Kind == layout.KindRoot {
		return append([]byte(nil), b.body...), nil
	}
	return b.bytes(), nil
}

// Payload returns the data stream n would have after a rebuild: the
// decoded stream of a compressed section, the body of anything else. The
// tree is not modified.
func Payload(n *layout.Node, opts Options) ([]byte, error) {
	if !n.Dirty {
		return append([]byte(nil), n.DataStream()...), nil
	}
	b, err := (&builder{opts: opts}).build(n)
	if err != nil {
		return nil, err
	}
	if b.stream != nil {
		return append([]byte(nil), b.stream...), nil
	}
	return append([]byte(nil), b.body...), nil
}

// ReconstructImage returns the bytes of the whole tree root belongs to.
func ReconstructImage(root *layout.Node, opts Options) ([]byte, error) {
	return Reconstruct(root.Root(), opts)
}

// Rebuild marks n dirty, rebuilds everything from n up to the root and, if
// that succeeds, stores the results in the tree, clears the dirty flags
// and refreshes the offsets. On failure the tree is left as it was.
func Rebuild(n *layout.Node, opts Options) error {
	root := n.Root()
	var marked []*layout.Node
	for c := n; c != nil; c = c.Parent {
		if !c.Dirty {
			marked = append(marked, c)
		}
	}
	n.MarkDirty()
	b, err := (&builder{opts: opts}).build(root)
	if err != nil {
		for _, c := range marked {
			c.Dirty = false
		}
		return err
	}
	commit(b)
	layout.UpdatePositions(root)
	return nil
}
