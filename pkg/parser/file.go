// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parser

import (
	"errors"
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

func isTruncation(err error) bool {
	return errors.Is(err, ErrStructuralTruncation)
}

// FileSize returns the total size a file header declares, reading the
// extended size of large files.
func FileSize(buf []byte) (uint64, error) {
	return fileSize(buf)
}

func fileSize(buf []byte) (uint64, error) {
	hdr, err := uefi.ParseFileHeader(buf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStructuralTruncation, err)
	}
	size := hdr.ExtendedSize
	if size < uint64(hdr.HeaderLen()) {
		return 0, fmt.Errorf("file %v declares %#x bytes, less than its header", hdr.GUID, size)
	}
	return size, nil
}

// looksLikeFile reports whether data starts with a consistent file header.
func (p *parser) looksLikeFile(data []byte) bool {
	hdr, err := uefi.ParseFileHeader(data)
	if err != nil {
		return false
	}
	hdrLen := hdr.HeaderLen()
	if hdr.ExtendedSize < uint64(hdrLen) || hdr.ExtendedSize > uint64(len(data)) {
		return false
	}
	return uefi.FileHeaderChecksum(data[:hdrLen]) == hdr.Checksum.Header
}

// parseFile builds the node for one file. It returns false when a guard
// prevented the node from being added.
func (p *parser) parseFile(parent *layout.Node, pos uint64, raw []byte, ctx Context) bool {
	hdr, err := uefi.ParseFileHeader(raw)
	if err != nil {
		p.diag.Errorf(parent.Path(), ErrStructuralTruncation, "file at %#x: %v", pos, err)
		return p.addPadding(parent, pos, raw, ctx.ErasePolarity) != nil
	}
	hdrLen := hdr.HeaderLen()
	kind := layout.KindFile
	if hdr.Type == uefi.FVFileTypePad {
		kind = layout.KindPadFile
	}
	n := newNode(kind, pos, raw, hdrLen)
	n.Subtype = uint8(hdr.Type)
	n.GUID = hdr.GUID
	a := &n.Attributes
	a.ErasePolarity = ctx.ErasePolarity
	a.Revision = ctx.Revision
	a.State = uefi.ClassifyState(hdr.State, ctx.ErasePolarity)
	a.Fixed = hdr.Attributes.IsFixed()
	a.Alignment = hdr.Attributes.Alignment()
	a.Large = hdr.Attributes.IsLarge()
	a.HeaderChecksumValid, a.DataChecksumValid = uefi.FileChecksumsValid(raw, hdrLen)
	if !p.attach(parent, n) {
		return false
	}

	path := n.Path()
	if !a.HeaderChecksumValid {
		p.diag.Warnf(path, nil, "file %v: header checksum is invalid", n.GUID)
	}
	if !a.DataChecksumValid {
		p.diag.Warnf(path, nil, "file %v: data checksum is invalid", n.GUID)
	}
	if a.Large && ctx.Revision < 3 {
		p.diag.Warnf(path, nil, "file %v: large file in an FFS%d volume", n.GUID, ctx.Revision)
	}
	if a.State != uefi.FileStatusValid {
		p.diag.Infof(path, "file %v is %v, not parsed", n.GUID, a.State)
		a.Opaque = true
		return true
	}

	switch {
	case kind == layout.KindPadFile:
		a.Empty = uefi.IsErased(n.Body, ctx.ErasePolarity)
		if !a.Empty {
			p.diag.Warnf(path, nil, "pad file %v holds data", n.GUID)
		}
		a.Opaque = true
	case !hdr.Type.HasSections():
		a.Opaque = true
	default:
		p.parseSectionStream(n, n.Body, ctx)
	}
	return true
}
