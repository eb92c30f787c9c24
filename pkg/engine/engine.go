// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine is an editing session over one flash image: the image is
// parsed once into a layout model, edited in place and serialized again.
// Every edit rebuilds what it touched before returning, so the model always
// describes bytes that can be saved.
package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/log"
	"github.com/linuxboot/ffsengine/pkg/parser"
	"github.com/linuxboot/ffsengine/pkg/reconstruct"
)

var (
	// ErrNotCompressible is returned when the compression of a node that
	// is not a compressed section is changed.
	ErrNotCompressible = errors.New("node is not compressible")
	// ErrInvalidTarget is returned when an object cannot be placed at or
	// removed from the requested position.
	ErrInvalidTarget = errors.New("invalid edit target")
)

// Options configure a session.
type Options struct {
	// Parser configures the parse of the image and of inserted objects.
	// Its Compression field is overridden by Compression.
	Parser parser.Options
	// Compression selects the codecs for decoding and encoding.
	Compression compression.Config
	// Logger receives diagnostics and a line per edit. May be nil.
	Logger log.Logger
}

func (o Options) parserOptions() parser.Options {
	p := o.Parser
	p.Compression = o.Compression
	if p.Logger == nil {
		p.Logger = o.Logger
	}
	return p
}

func (o Options) reconstructOptions() reconstruct.Options {
	return reconstruct.Options{Compression: o.Compression}
}

// Engine is an editing session. It is not safe for concurrent use.
type Engine struct {
	model *layout.Model
	diag  *layout.Diagnostics
	opts  Options
}

// Open parses buf. Parsing never fails: problems are reported through
// Diagnostics and the affected bytes are kept opaque.
func Open(buf []byte, opts Options) *Engine {
	m, diag := parser.Parse(buf, opts.parserOptions())
	return &Engine{model: m, diag: diag, opts: opts}
}

// Model returns the layout model of the session.
func (e *Engine) Model() *layout.Model {
	return e.model
}

// Diagnostics returns the records collected by the parse and the edits.
func (e *Engine) Diagnostics() *layout.Diagnostics {
	return e.diag
}

// Subscribe registers o for change notifications.
func (e *Engine) Subscribe(o layout.Observer) (cancel func()) {
	return e.model.Subscribe(o)
}

// Get returns the node at p.
func (e *Engine) Get(p layout.Path) (*layout.Node, error) {
	return e.model.Get(p)
}

// View returns a read-only view of the node at p.
func (e *Engine) View(p layout.Path) (layout.View, error) {
	n, err := e.model.Get(p)
	if err != nil {
		return layout.View{}, err
	}
	return layout.NewView(n), nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.opts.Logger != nil {
		e.opts.Logger.Infof(format, args...)
	}
}

// Rebuild re-serializes the node at p and everything above it.
func (e *Engine) Rebuild(p layout.Path) error {
	n, err := e.model.Get(p)
	if err != nil {
		return err
	}
	if err := reconstruct.Rebuild(n, e.opts.reconstructOptions()); err != nil {
		return fmt.Errorf("rebuild %v: %w", p, err)
	}
	e.logf("rebuilt %v", p)
	return nil
}

// ReconstructImage returns the bytes of the whole image.
func (e *Engine) ReconstructImage() ([]byte, error) {
	return reconstruct.ReconstructImage(e.model.Root(), e.opts.reconstructOptions())
}

// Save writes the image to w.
func (e *Engine) Save(w io.Writer) error {
	b, err := e.ReconstructImage()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Validate reports the error records of the diagnostics channel together
// with the checksum failures found in the current tree.
func (e *Engine) Validate() error {
	var result *multierror.Error
	if err := e.diag.Err(); err != nil {
		result = multierror.Append(result, err)
	}
	e.model.Root().Walk(func(n *layout.Node) bool {
		a := n.Attributes
		switch {
		case n.Kind == layout.KindVolume && !a.HeaderChecksumValid:
			result = multierror.Append(result, fmt.Errorf("%v: volume header checksum", n.Path()))
		case n.Kind.IsFile() && !a.HeaderChecksumValid:
			result = multierror.Append(result, fmt.Errorf("%v: file %v header checksum", n.Path(), n.GUID))
		case n.Kind.IsFile() && !a.DataChecksumValid:
			result = multierror.Append(result, fmt.Errorf("%v: file %v data checksum", n.Path(), n.GUID))
		case n.Kind == layout.KindSection && !a.DataChecksumValid:
			result = multierror.Append(result, fmt.Errorf("%v: %v checksum", n.Path(), n.Label()))
		}
		return true
	})
	return result.ErrorOrNil()
}

// rebuildOrUndo rebuilds n and runs undo when that fails.
func (e *Engine) rebuildOrUndo(n *layout.Node, undo func()) error {
	if err := reconstruct.Rebuild(n, e.opts.reconstructOptions()); err != nil {
		undo()
		return err
	}
	return nil
}
