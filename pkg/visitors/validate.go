// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	fbytes "github.com/linuxboot/ffsengine/pkg/bytes"
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// Validate performs extra checks on the stored bytes of the tree: size
// fields, checksums, volume headers and the placement of children.
type Validate struct {
	// Session, when set, contributes its own checks and the error records
	// of its diagnostics channel.
	Session *engine.Engine

	// An optional Writer for writing errors when validation is complete.
	// When the writer is set, Run also fails when an error was found.
	W io.Writer

	// List of validation errors.
	Errors []error
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Validate) Run(n *layout.Node) error {
	v.Errors = nil
	if v.Session != nil {
		if err := v.Session.Validate(); err != nil {
			if merr, ok := err.(*multierror.Error); ok {
				v.Errors = append(v.Errors, merr.Errors...)
			} else {
				v.Errors = append(v.Errors, err)
			}
		}
	}
	if err := n.Apply(v); err != nil {
		return err
	}

	if v.W != nil && len(v.Errors) != 0 {
		for _, e := range v.Errors {
			fmt.Fprintln(v.W, e)
		}
		return v.Err()
	}
	return nil
}

// Err aggregates the validation errors, or returns nil when there are none.
func (v *Validate) Err() error {
	var result *multierror.Error
	for _, e := range v.Errors {
		result = multierror.Append(result, e)
	}
	return result.ErrorOrNil()
}

func (v *Validate) errorf(n *layout.Node, format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Errorf("%v: %s", n.Path(), fmt.Sprintf(format, args...)))
}

// Visit applies the Validate visitor to any node.
func (v *Validate) Visit(n *layout.Node) error {
	switch n.Kind {
	case layout.KindVolume:
		v.volume(n)
	case layout.KindFile, layout.KindPadFile:
		v.file(n)
	case layout.KindSection:
		size, _, err := uefi.SectionSize(n.Header)
		if err != nil {
			v.errorf(n, "%v", err)
		} else if size != n.Size() {
			v.errorf(n, "section size mismatch! Size is %#x, buf length is %#x", size, n.Size())
		}
	case layout.KindBiosRegion:
		var first *layout.Node
		for i, c := range n.Children {
			if c.Kind != layout.KindVolume {
				continue
			}
			if first == nil {
				first = c
				continue
			}
			// Volumes of one BIOS region share the flash part.
			if ep := c.Attributes.ErasePolarity; ep != first.Attributes.ErasePolarity {
				v.errorf(n, "erase polarity mismatch! first volume has %v and volume %d has %v",
					first.Attributes.ErasePolarity, i, ep)
			}
		}
	}
	v.children(n)
	return n.ApplyChildren(v)
}

func (v *Validate) volume(n *layout.Node) {
	if len(n.Header) < uefi.FirmwareVolumeMinSize {
		v.errorf(n, "header length too small, got: %#x", len(n.Header))
		return
	}
	h, err := uefi.ParseVolumeHeader(n.Header)
	if err != nil {
		v.errorf(n, "%v", err)
		return
	}
	if _, ok := uefi.FVGUIDs[h.FileSystemGUID]; !ok {
		v.errorf(n, "unknown FV type! Guid was %v", h.FileSystemGUID)
	}
	// UEFI PI spec says version should always be 2
	if h.Revision != 2 {
		v.errorf(n, "revision should be 2, was %v", h.Revision)
	}
	if h.Length != n.Size() {
		v.errorf(n, "length mismatch!, header has %#x, buffer is %#x bytes long", h.Length, n.Size())
	}
	if total := h.BlockMapLength(); total != h.Length {
		v.errorf(n, "block map describes %#x bytes, header has %#x", total, h.Length)
	}
	if !uefi.VolumeChecksumValid(n.Header) {
		v.errorf(n, "header did not sum to 0")
	}
}

func (v *Validate) file(n *layout.Node) {
	h, err := uefi.ParseFileHeader(n.Header)
	if err != nil {
		v.errorf(n, "%v", err)
		return
	}
	if h.HeaderLen() != len(n.Header) {
		v.errorf(n, "file %v header is %#x bytes, attributes call for %#x", h.GUID, len(n.Header), h.HeaderLen())
		return
	}
	if h.ExtendedSize != n.Size() {
		v.errorf(n, "file %v size mismatch! Size is %#x, buf length is %#x", h.GUID, h.ExtendedSize, n.Size())
		return
	}
	headerOK, dataOK := uefi.FileChecksumsValid(n.Bytes(), len(n.Header))
	if !headerOK {
		v.errorf(n, "file %v header checksum failure!", h.GUID)
	}
	if !dataOK {
		v.errorf(n, "file %v body checksum failure!", h.GUID)
	}
}

// children checks that the children of n lie in its data stream without
// overlapping. Descriptor regions were already checked by the parser.
func (v *Validate) children(n *layout.Node) {
	if len(n.Children) == 0 || n.Kind == layout.KindRoot {
		return
	}
	end := uint64(len(n.DataStream()))
	var ranges fbytes.Ranges
	for _, c := range n.Children {
		r := fbytes.Range{Offset: c.Pos, Length: c.Size()}
		if r.End() > end {
			v.errorf(c, "ends at %#x, past the %#x bytes of its parent", r.End(), end)
		}
		ranges = append(ranges, r)
	}
	for _, pair := range ranges.Intersections() {
		v.errorf(n, "children %d and %d overlap", pair[0], pair[1])
	}
}

func init() {
	RegisterCLI("validate", "perform extra validation checks", 0, func(e *engine.Engine, _ []string) (layout.Visitor, error) {
		return &Validate{Session: e, W: Stdout}, nil
	})
}
