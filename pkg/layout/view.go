// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

// View is a read-only handle on a node for display code.
type View struct {
	n *Node
}

// NewView returns a view of n.
func NewView(n *Node) View {
	return View{n: n}
}

// Valid reports whether the view refers to a node.
func (v View) Valid() bool { return v.n != nil }

// Kind returns the node kind.
func (v View) Kind() Kind { return v.n.Kind }

// Name returns the display label.
func (v View) Name() string { return v.n.Label() }

// Path returns the node address.
func (v View) Path() Path { return v.n.Path() }

// Size returns the stored size.
func (v View) Size() uint64 { return v.n.Size() }

// Offset returns the absolute offset, or the offset within the decoded
// stream when InCompressed is set.
func (v View) Offset() uint64 { return v.n.Offset }

// InCompressed reports whether Offset is relative to a decoded stream.
func (v View) InCompressed() bool { return v.n.InCompressed }

// Attributes returns a copy of the node attributes.
func (v View) Attributes() Attributes { return v.n.Attributes }

// Children returns views of the children.
func (v View) Children() []View {
	out := make([]View, len(v.n.Children))
	for i, c := range v.n.Children {
		out[i] = View{n: c}
	}
	return out
}

// Parent returns the view of the parent; it is not Valid for the root.
func (v View) Parent() View { return View{n: v.n.Parent} }
