// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package parser turns flash images, volumes, files and sections into a
// layout tree. It never fails on malformed input: anomalies are reported
// through the diagnostics channel and the affected bytes are kept as opaque
// nodes, so the tree always reproduces the input.
package parser

import (
	"errors"
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/log"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// ErrStructuralTruncation is reported when a declared size runs past the
// bytes available to it.
var ErrStructuralTruncation = errors.New("structural truncation")

// Default guards.
const (
	DefaultMaxDepth = 32
	DefaultMaxNodes = 1 << 20
)

// Options configure a parse. The zero value uses the defaults.
type Options struct {
	// MaxDepth bounds the nesting of nodes below the root.
	MaxDepth int
	// MaxNodes bounds the number of nodes created.
	MaxNodes int
	// Compression selects the codecs.
	Compression compression.Config
	// Logger, when set, receives a copy of every diagnostic.
	Logger log.Logger
	// Context is used for inputs that do not carry their own erase polarity
	// and revision: bare files and sections.
	Context Context
}

// Context is the state a volume passes down to its files and sections.
type Context struct {
	ErasePolarity uefi.ErasePolarity
	Revision      uint8
}

// DefaultContext is the context of FFS2 volumes erased to 0xFF.
var DefaultContext = Context{ErasePolarity: uefi.ErasePolarityOne, Revision: 2}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = DefaultMaxNodes
	}
	if o.Context.Revision == 0 {
		o.Context = DefaultContext
	}
	return o
}

type parser struct {
	opts      Options
	diag      *layout.Diagnostics
	nodes     int
	exhausted bool
}

func newParser(opts Options) *parser {
	opts = opts.withDefaults()
	return &parser{opts: opts, diag: layout.NewDiagnostics(opts.Logger)}
}

// depth returns how deep n is below the root.
func depth(n *layout.Node) int {
	d := 0
	for c := n; c.Parent != nil; c = c.Parent {
		d++
	}
	return d
}

// attach adds n below parent. It returns false, leaving the tree untouched,
// when a guard trips.
func (p *parser) attach(parent, n *layout.Node) bool {
	if p.exhausted {
		return false
	}
	if p.nodes >= p.opts.MaxNodes {
		p.exhausted = true
		p.diag.Errorf(parent.Path(), nil, "node limit of %d reached, remaining structure left unparsed", p.opts.MaxNodes)
		return false
	}
	if d := depth(parent) + 1; d > p.opts.MaxDepth {
		p.diag.Errorf(parent.Path(), nil, "nesting deeper than %d levels, subtree left opaque", p.opts.MaxDepth)
		return false
	}
	p.nodes++
	parent.AddChild(n)
	return true
}

// makeOpaque drops the children of n after a guard tripped below it. The
// stored bytes of n still hold everything.
func makeOpaque(n *layout.Node) {
	for _, c := range n.Children {
		c.Parent = nil
	}
	n.Children = nil
	n.Uncompressed = nil
	n.Attributes.Opaque = true
}

// newNode slices raw into header and body. raw must be capped at its end.
func newNode(kind layout.Kind, pos uint64, raw []byte, hdrLen int) *layout.Node {
	return &layout.Node{
		Kind:     kind,
		Pos:      pos,
		Header:   raw[:hdrLen:hdrLen],
		Body:     raw[hdrLen:],
		Original: raw,
	}
}

// addPadding appends a Padding node for raw at pos.
func (p *parser) addPadding(parent *layout.Node, pos uint64, raw []byte, polarity uefi.ErasePolarity) *layout.Node {
	n := newNode(layout.KindPadding, pos, raw, 0)
	n.Attributes.ErasePolarity = polarity
	n.Attributes.Empty = uefi.IsErased(raw, polarity)
	n.Attributes.Opaque = true
	if !p.attach(parent, n) {
		return nil
	}
	return n
}

// Parse auto-detects the kind of buf: an image with an Intel flash
// descriptor, a bare BIOS image (volume chain), a single file or a single
// section. Anything else becomes one opaque padding node.
func Parse(buf []byte, opts Options) (*layout.Model, *layout.Diagnostics) {
	p := newParser(opts)
	data := append([]byte(nil), buf...)
	data = data[:len(data):len(data)]
	root := &layout.Node{Kind: layout.KindRoot, Body: data, Original: data}
	model := layout.NewModel(root)

	switch {
	case len(data) == 0:
		p.diag.Warnf(layout.Path{}, nil, "empty input")
	case p.isDescriptorImage(data):
		p.parseIntelImage(root, data)
	case uefi.FindFirmwareVolumeOffset(data, 0) >= 0:
		p.parseVolumeChain(root, data, p.opts.Context.ErasePolarity)
	case p.looksLikeFile(data):
		p.parseBareFile(root, data, p.opts.Context)
	case looksLikeSection(data):
		p.parseSectionStream(root, data, p.opts.Context)
	default:
		p.diag.Warnf(layout.Path{}, nil, "unknown input of %#x bytes kept as padding", len(data))
		p.addPadding(root, 0, data, p.opts.Context.ErasePolarity)
	}
	if p.exhausted {
		p.diag.Infof(layout.Path{}, "%d nodes parsed", p.nodes)
	}
	layout.UpdatePositions(root)
	return model, p.diag
}

// parseBareFile parses a file at the start of data. Bytes after it are
// kept as padding.
func (p *parser) parseBareFile(root *layout.Node, data []byte, ctx Context) {
	size, err := fileSize(data)
	if err == nil && size > uint64(len(data)) {
		err = fmt.Errorf("%w: file of %#x bytes runs past %#x", ErrStructuralTruncation, size, len(data))
	}
	if err != nil {
		p.diag.Errorf(layout.Path{}, unwrapTaxonomy(err), "%v", err)
		p.addPadding(root, 0, data, ctx.ErasePolarity)
		return
	}
	if !p.parseFile(root, 0, data[:size:size], ctx) {
		return
	}
	if size < uint64(len(data)) {
		p.addPadding(root, size, data[size:], ctx.ErasePolarity)
	}
}

// parseSingle runs fn below a scratch root and returns the one node it
// produced.
func parseSingle(what string, data []byte, opts Options, fn func(p *parser, root *layout.Node, data []byte)) (*layout.Node, *layout.Diagnostics, error) {
	p := newParser(opts)
	data = append([]byte(nil), data...)
	data = data[:len(data):len(data)]
	root := &layout.Node{Kind: layout.KindRoot, Body: data}
	fn(p, root, data)
	if len(root.Children) != 1 || root.Children[0].Kind == layout.KindPadding {
		return nil, p.diag, fmt.Errorf("input is not a single %s", what)
	}
	n := root.Children[0]
	if n.Size() != uint64(len(data)) {
		return nil, p.diag, fmt.Errorf("%s of %#x bytes followed by %#x unexpected bytes", what, n.Size(), uint64(len(data))-n.Size())
	}
	n.Parent = nil
	n.Pos = 0
	layout.UpdatePositions(n)
	return n, p.diag, nil
}

// ParseVolume parses buf as exactly one firmware volume.
func ParseVolume(buf []byte, opts Options) (*layout.Node, *layout.Diagnostics, error) {
	return parseSingle("volume", buf, opts, func(p *parser, root *layout.Node, data []byte) {
		if uefi.FindFirmwareVolumeOffset(data, 0) != 0 {
			return
		}
		p.parseVolumeChain(root, data, p.opts.Context.ErasePolarity)
	})
}

// ParseFile parses buf as exactly one FFS file under ctx.
func ParseFile(buf []byte, ctx Context, opts Options) (*layout.Node, *layout.Diagnostics, error) {
	opts.Context = ctx
	return parseSingle("file", buf, opts, func(p *parser, root *layout.Node, data []byte) {
		if !p.looksLikeFile(data) {
			return
		}
		p.parseBareFile(root, data, p.opts.Context)
	})
}

// ParseSection parses buf as exactly one section under ctx. Alignment
// padding after the section is not accepted.
func ParseSection(buf []byte, ctx Context, opts Options) (*layout.Node, *layout.Diagnostics, error) {
	opts.Context = ctx
	return parseSingle("section", buf, opts, func(p *parser, root *layout.Node, data []byte) {
		if !looksLikeSection(data) {
			return
		}
		p.parseSectionStream(root, data, p.opts.Context)
	})
}
