// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/parser"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// ObjectType is the kind of object Insert parses its bytes as.
type ObjectType int

// Insertable objects.
const (
	ObjectFile ObjectType = iota
	ObjectSection
	ObjectVolume
)

func (t ObjectType) String() string {
	switch t {
	case ObjectFile:
		return "file"
	case ObjectSection:
		return "section"
	case ObjectVolume:
		return "volume"
	}
	return fmt.Sprintf("ObjectType(%d)", int(t))
}

// ParseObjectType is the inverse of ObjectType.String.
func ParseObjectType(s string) (ObjectType, error) {
	for _, t := range []ObjectType{ObjectFile, ObjectSection, ObjectVolume} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown object type %q", s)
}

// InsertMode places an inserted object among the children of its parent.
type InsertMode int

// Insert modes. Before and After are relative to the child number ref.
const (
	InsertAppend InsertMode = iota
	InsertPrepend
	InsertBefore
	InsertAfter
)

func (m InsertMode) String() string {
	switch m {
	case InsertAppend:
		return "append"
	case InsertPrepend:
		return "prepend"
	case InsertBefore:
		return "before"
	case InsertAfter:
		return "after"
	}
	return fmt.Sprintf("InsertMode(%d)", int(m))
}

// ParseInsertMode is the inverse of InsertMode.String.
func ParseInsertMode(s string) (InsertMode, error) {
	for _, m := range []InsertMode{InsertAppend, InsertPrepend, InsertBefore, InsertAfter} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown insert mode %q", s)
}

// contextOf returns the erase polarity and revision objects placed below n
// are parsed with.
func (e *Engine) contextOf(n *layout.Node) parser.Context {
	if n.Kind == layout.KindRoot {
		if ctx := e.opts.Parser.Context; ctx.Revision != 0 {
			return ctx
		}
		return parser.DefaultContext
	}
	ctx := parser.Context{ErasePolarity: n.Attributes.ErasePolarity, Revision: n.Attributes.Revision}
	if ctx.Revision == 0 {
		ctx.Revision = parser.DefaultContext.Revision
	}
	return ctx
}

// canHold reports whether objects of type t may be placed below n.
func canHold(n *layout.Node, t ObjectType) bool {
	if n.Attributes.Opaque {
		return false
	}
	switch t {
	case ObjectFile:
		return n.Kind == layout.KindVolume && n.Attributes.Revision != 0
	case ObjectSection:
		switch n.Kind {
		case layout.KindFile:
			return uefi.FVFileType(n.Subtype).HasSections()
		case layout.KindSection:
			switch uefi.SectionType(n.Subtype) {
			case uefi.SectionTypeCompression, uefi.SectionTypeGUIDDefined, uefi.SectionTypeDisposable:
				return true
			}
		}
	case ObjectVolume:
		switch n.Kind {
		case layout.KindBiosRegion:
			return true
		case layout.KindRoot:
			for _, c := range n.Children {
				if c.Kind.IsRegion() {
					return false
				}
			}
			return true
		case layout.KindSection:
			return uefi.SectionType(n.Subtype) == uefi.SectionTypeFirmwareVolumeImage
		}
	}
	return false
}

// trailingFree reports whether n is the erased space closing its parent.
func trailingFree(n *layout.Node) bool {
	return n.Kind == layout.KindPadding && n.Attributes.Empty
}

func position(parent *layout.Node, mode InsertMode, ref int) (int, error) {
	count := len(parent.Children)
	switch mode {
	case InsertAppend:
		if count > 0 && trailingFree(parent.Children[count-1]) {
			return count - 1, nil
		}
		return count, nil
	case InsertPrepend:
		return 0, nil
	case InsertBefore, InsertAfter:
		if ref < 0 || ref >= count {
			return 0, fmt.Errorf("%w: reference child %d out of %d", layout.ErrPathInvalid, ref, count)
		}
		if mode == InsertAfter {
			ref++
		}
		return ref, nil
	}
	return 0, fmt.Errorf("unknown insert mode %v", mode)
}

// parseObject parses data as a single object of type t under ctx.
func (e *Engine) parseObject(data []byte, t ObjectType, ctx parser.Context) (*layout.Node, *layout.Diagnostics, error) {
	opts := e.opts.parserOptions()
	switch t {
	case ObjectFile:
		return parser.ParseFile(data, ctx, opts)
	case ObjectSection:
		return parser.ParseSection(data, ctx, opts)
	case ObjectVolume:
		return parser.ParseVolume(data, opts)
	}
	return nil, nil, fmt.Errorf("unknown object type %v", t)
}

// adopt copies the records of a parse rooted at at into the session.
func (e *Engine) adopt(at layout.Path, d *layout.Diagnostics) {
	if d == nil {
		return
	}
	for _, r := range d.Records() {
		p := at
		if len(r.Path) > 1 {
			p = append(append(layout.Path{}, at...), r.Path[1:]...)
		}
		r.Path = p
		e.diag.Add(r)
	}
}

// Insert parses data as an object of type t, places it below the node at
// parent and rebuilds. Appending to a volume places the object in front
// of the trailing free space. It returns the path of the new node.
func (e *Engine) Insert(parent layout.Path, data []byte, t ObjectType, mode InsertMode, ref int) (layout.Path, error) {
	p, err := e.model.Get(parent)
	if err != nil {
		return nil, err
	}
	if !canHold(p, t) {
		return nil, fmt.Errorf("%w: a %v cannot be placed in %v %v", ErrInvalidTarget, t, p.Kind, parent)
	}
	idx, err := position(p, mode, ref)
	if err != nil {
		return nil, err
	}
	n, d, err := e.parseObject(data, t, e.contextOf(p))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	at := parent.Child(idx)
	if err := e.model.InsertSubtree(parent, idx, n); err != nil {
		return nil, err
	}
	err = e.rebuildOrUndo(n, func() {
		_, _ = e.model.RemoveSubtree(at)
	})
	if err != nil {
		return nil, fmt.Errorf("insert %v at %v: %w", t, at, err)
	}
	// The rebuild may have placed pad files or free space in front of n.
	at = n.Path()
	e.adopt(at, d)
	e.logf("inserted %v %v at %v", t, n.Label(), at)
	return at, nil
}

// Replace puts an object parsed from data in place of the node at p. The
// node must be a file, section or volume and is replaced by one of the
// same kind.
func (e *Engine) Replace(p layout.Path, data []byte) error {
	old, err := e.model.Get(p)
	if err != nil {
		return err
	}
	if old.Parent == nil {
		return fmt.Errorf("%w: the root cannot be replaced", ErrInvalidTarget)
	}
	var t ObjectType
	switch old.Kind {
	case layout.KindFile, layout.KindPadFile:
		t = ObjectFile
	case layout.KindSection:
		t = ObjectSection
	case layout.KindVolume:
		t = ObjectVolume
	default:
		return fmt.Errorf("%w: %v nodes cannot be replaced", ErrInvalidTarget, old.Kind)
	}
	n, d, err := e.parseObject(data, t, e.contextOf(old.Parent))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	n.Pos = old.Pos
	if err := e.model.ReplaceSubtree(p, n); err != nil {
		return err
	}
	err = e.rebuildOrUndo(n, func() {
		_ = e.model.ReplaceSubtree(p, old)
	})
	if err != nil {
		return fmt.Errorf("replace %v: %w", p, err)
	}
	at := n.Path()
	e.adopt(at, d)
	e.logf("replaced %v with %v", at, n.Label())
	return nil
}
