// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// Attributes are the format flags of a node. Fields that do not apply to a
// kind keep their zero value.
type Attributes struct {
	// ErasePolarity and Revision come from the enclosing volume.
	ErasePolarity uefi.ErasePolarity
	Revision      uint8

	HeaderChecksumValid bool
	DataChecksumValid   bool
	// Large is set when the header uses the large file or extended
	// section size form.
	Large bool

	Fixed     bool
	Alignment uint64
	State     uefi.FileStatus

	// Compression is the algorithm the body is stored with. For GUID
	// defined sections it follows the section GUID.
	Compression    compression.Algorithm
	CompressedSize uint64

	// Opaque nodes were not parsed into children, either by choice (raw
	// files, unknown GUIDs) or because decoding failed.
	Opaque bool
	// Empty padding holds erase bytes only.
	Empty bool

	// Name and Version are decoded from user interface and version
	// sections, and copied onto the owning file.
	Name    string
	Version string
}

// Node is a single element of the flash image tree.
type Node struct {
	Kind Kind
	// Subtype is the file type, the section type, or the descriptor region
	// index for padding standing in for a region.
	Subtype uint8
	GUID    guid.GUID

	Header []byte
	Body   []byte

	// Pos is the node's offset within the data stream of its parent: the
	// bytes following the parent header, or the decoded stream of a
	// compressed parent. Offset is derived from it by UpdatePositions.
	Pos    uint64
	Offset uint64
	// InCompressed is set below compressed or wrapped sections; Offset is
	// then relative to the decoded stream.
	InCompressed bool

	Attributes Attributes

	// Uncompressed holds the decoded stream the children of a compressed
	// section were parsed from.
	Uncompressed []byte
	// Original holds the node bytes as first parsed.
	Original []byte

	// Dirty nodes are serialized from their children by the reconstruction
	// engine, clean ones reproduce Header and Body.
	Dirty bool

	Children []*Node
	Parent   *Node
}

func (n *Node) String() string {
	return fmt.Sprintf("%v(%s) @%#x+%#x", n.Kind, n.Label(), n.Offset, n.Size())
}

// Size is the stored size of the node.
func (n *Node) Size() uint64 {
	return uint64(len(n.Header) + len(n.Body))
}

// Bytes returns a fresh copy of Header followed by Body.
func (n *Node) Bytes() []byte {
	b := make([]byte, 0, len(n.Header)+len(n.Body))
	b = append(b, n.Header...)
	return append(b, n.Body...)
}

// DataStream returns the bytes the children were parsed from.
func (n *Node) DataStream() []byte {
	if n.Uncompressed != nil {
		return n.Uncompressed
	}
	return n.Body
}

// HasDecodedStream reports whether the children live in a decoded copy of
// the body rather than in the body itself.
func (n *Node) HasDecodedStream() bool {
	return n.Uncompressed != nil
}

// Label is a short human readable name: the UI name or GUID of files, the
// section type, the file system of volumes.
func (n *Node) Label() string {
	switch n.Kind {
	case KindFile, KindPadFile:
		if n.Attributes.Name != "" {
			return n.Attributes.Name
		}
		return n.GUID.String()
	case KindSection:
		t := uefi.SectionType(n.Subtype)
		if t == uefi.SectionTypeGUIDDefined || t == uefi.SectionTypeFreeformSubtypeGUID {
			return fmt.Sprintf("%v %v", t, n.GUID)
		}
		if t == uefi.SectionTypeUserInterface && n.Attributes.Name != "" {
			return fmt.Sprintf("%v %q", t, n.Attributes.Name)
		}
		return t.String()
	case KindVolume:
		if name, ok := uefi.FVGUIDs[n.GUID]; ok {
			return name
		}
		return n.GUID.String()
	case KindPadding:
		if n.Attributes.Empty {
			return "Empty"
		}
		return "Non-empty"
	}
	return n.Kind.String()
}

// Path returns the child indices leading from the root to n.
func (n *Node) Path() Path {
	var rev Path
	for c := n; c.Parent != nil; c = c.Parent {
		rev = append(rev, c.Parent.indexOf(c))
	}
	p := make(Path, len(rev))
	for i := range rev {
		p[i] = rev[len(rev)-1-i]
	}
	return p
}

func (n *Node) indexOf(child *Node) int {
	for i, c := range n.Children {
		if c == child {
			return i
		}
	}
	return -1
}

// Root returns the top of the tree n belongs to.
func (n *Node) Root() *Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// AddChild appends c to the children of n.
func (n *Node) AddChild(c *Node) {
	c.Parent = n
	n.Children = append(n.Children, c)
}

// SetChildren replaces the children of n and adopts them.
func (n *Node) SetChildren(children []*Node) {
	for _, c := range children {
		c.Parent = n
	}
	n.Children = children
}

// FindParentOfKind returns the nearest ancestor of one of the given kinds.
func (n *Node) FindParentOfKind(kinds ...Kind) *Node {
	for p := n.Parent; p != nil; p = p.Parent {
		for _, k := range kinds {
			if p.Kind == k {
				return p
			}
		}
	}
	return nil
}

// MarkDirty flags n and all its ancestors for serialization from children.
func (n *Node) MarkDirty() {
	for c := n; c != nil; c = c.Parent {
		c.Dirty = true
	}
}

// Walk calls fn for n and its descendants in byte order, parents first.
// Returning false from fn skips the children of that node.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Clone returns a deep copy of the subtree. The copy has no parent.
func (n *Node) Clone() *Node {
	c := *n
	c.Parent = nil
	c.Header = cloneBytes(n.Header)
	c.Body = cloneBytes(n.Body)
	c.Uncompressed = cloneBytes(n.Uncompressed)
	c.Original = cloneBytes(n.Original)
	c.Children = nil
	for _, child := range n.Children {
		c.AddChild(child.Clone())
	}
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// Visitor represents an operation which can be applied to the tree.
type Visitor interface {
	// Run wraps Visit and performs some setup and teardown tasks.
	Run(n *Node) error

	// Visit applies an operation to a node. Descending into the
	// children is up to the visitor, usually through ApplyChildren.
	Visit(n *Node) error
}

// Apply calls the visitor on n.
func (n *Node) Apply(v Visitor) error {
	return v.Visit(n)
}

// ApplyChildren calls the visitor on each child of n.
func (n *Node) ApplyChildren(v Visitor) error {
	for _, c := range n.Children {
		if err := c.Apply(v); err != nil {
			return err
		}
	}
	return nil
}
