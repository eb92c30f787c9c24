// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parser

import (
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// FindNextVolume returns the offset of the first volume header whose
// signature lies at or after from+40, or -1.
func FindNextVolume(buf []byte, from int) int {
	return uefi.FindFirmwareVolumeOffset(buf, from)
}

// VolumeSize reads FvLength from a serialized header.
func VolumeSize(header []byte) (uint64, error) {
	if len(header) < uefi.FirmwareVolumeMinSize {
		return 0, fmt.Errorf("%w: volume header needs %d bytes, got %d",
			ErrStructuralTruncation, uefi.FirmwareVolumeMinSize, len(header))
	}
	size := uefi.VolumeLength(header)
	if size == 0 {
		return 0, fmt.Errorf("volume length is zero")
	}
	return size, nil
}

// parseVolumeChain parses data as a run of volumes. Bytes before, between
// and after them become padding.
func (p *parser) parseVolumeChain(parent *layout.Node, data []byte, polarity uefi.ErasePolarity) {
	gapStart := 0
	search := 0
	for {
		off := FindNextVolume(data, search)
		if off < 0 {
			break
		}
		size, err := VolumeSize(data[off:])
		if err == nil && size > uint64(len(data)-off) {
			err = fmt.Errorf("%w: volume of %#x bytes at %#x runs past %#x",
				ErrStructuralTruncation, size, off, len(data))
		}
		if err == nil && size < uefi.FirmwareVolumeMinSize {
			err = fmt.Errorf("volume length %#x is shorter than its header", size)
		}
		if err != nil {
			p.diag.Warnf(parent.Path(), unwrapTaxonomy(err), "candidate volume at %#x rejected: %v", off, err)
			search = off + 1
			continue
		}
		hdr, err := uefi.ParseVolumeHeader(data[off : uint64(off)+size])
		if err != nil {
			p.diag.Warnf(parent.Path(), nil, "candidate volume at %#x rejected: %v", off, err)
			search = off + 1
			continue
		}
		if off > gapStart {
			if p.addPadding(parent, uint64(gapStart), data[gapStart:off:off], polarity) == nil {
				return
			}
		}
		end := off + int(size)
		if !p.parseVolume(parent, uint64(off), data[off:end:end], hdr) {
			return
		}
		gapStart, search = end, end
		// Volumes declare the polarity of the space after them.
		polarity = hdr.ErasePolarity()
	}
	if gapStart < len(data) {
		p.addPadding(parent, uint64(gapStart), data[gapStart:], polarity)
	}
}

func unwrapTaxonomy(err error) error {
	if isTruncation(err) {
		return ErrStructuralTruncation
	}
	return nil
}

// parseVolume builds the node for one volume and its files.
func (p *parser) parseVolume(parent *layout.Node, pos uint64, raw []byte, hdr *uefi.VolumeHeader) bool {
	dataOffset := hdr.DataOffset
	if dataOffset > uint64(len(raw)) {
		dataOffset = uint64(hdr.HeaderLen)
	}
	n := newNode(layout.KindVolume, pos, raw, int(dataOffset))
	n.GUID = hdr.FileSystemGUID
	n.Attributes.ErasePolarity = hdr.ErasePolarity()
	n.Attributes.Revision = hdr.FFSRevision()
	n.Attributes.HeaderChecksumValid = uefi.VolumeChecksumValid(raw)
	n.Attributes.DataChecksumValid = true
	if hdr.HasExtHeader {
		n.Attributes.Name = hdr.FVName.String()
	}
	if !p.attach(parent, n) {
		return false
	}
	path := n.Path()
	if !n.Attributes.HeaderChecksumValid {
		p.diag.Warnf(path, nil, "volume header checksum is invalid")
	}
	if bm := hdr.BlockMapLength(); bm != hdr.Length {
		p.diag.Warnf(path, nil, "block map describes %#x bytes, volume length is %#x", bm, hdr.Length)
	}
	if hdr.DataOffset > uint64(len(raw)) {
		p.diag.Warnf(path, nil, "extended header ends past the volume, ignored")
	}
	if n.Attributes.Revision == 0 {
		p.diag.Infof(path, "%v volume not parsed", hdr.TypeName())
		n.Attributes.Opaque = true
		return true
	}
	ctx := Context{ErasePolarity: n.Attributes.ErasePolarity, Revision: n.Attributes.Revision}
	p.parseFiles(n, n.Body, ctx)
	return true
}

// parseFiles reads the files of a volume body at 8 byte alignment. Free
// space is skipped up to the next non-erased byte, where parsing resumes if
// a file header is found there.
func (p *parser) parseFiles(vol *layout.Node, body []byte, ctx Context) {
	pol := ctx.ErasePolarity
	var off uint64
	end := uint64(len(body))
	for off < end {
		if end-off < uefi.FileHeaderMinLength {
			p.addTail(vol, off, body, pol)
			return
		}
		if uefi.IsErased(body[off:off+uefi.FileHeaderMinLength], pol) {
			next := nextUsed(body, off, pol)
			if next >= end || !p.looksLikeFile(body[next:]) {
				p.addTail(vol, off, body, pol)
				return
			}
			if p.addPadding(vol, off, body[off:next:next], pol) == nil {
				makeOpaque(vol)
				return
			}
			off = next
			continue
		}
		size, err := fileSize(body[off:])
		if err == nil && size > end-off {
			err = fmt.Errorf("%w: file of %#x bytes at %#x runs past the volume end %#x",
				ErrStructuralTruncation, size, off, end)
		}
		if err != nil {
			p.diag.Errorf(vol.Path(), unwrapTaxonomy(err), "%v", err)
			p.addTail(vol, off, body, pol)
			return
		}
		if !p.parseFile(vol, off, body[off:off+size:off+size], ctx) {
			makeOpaque(vol)
			return
		}
		off = uefi.Align8(off + size)
	}
}

// addTail keeps the rest of a volume as free space.
func (p *parser) addTail(vol *layout.Node, off uint64, body []byte, pol uefi.ErasePolarity) {
	n := p.addPadding(vol, off, body[off:], pol)
	if n == nil {
		makeOpaque(vol)
		return
	}
	if !n.Attributes.Empty {
		p.diag.Warnf(n.Path(), nil, "free space at %#x is not erased", off)
	}
}

// nextUsed returns the 8 byte aligned offset holding the first non-erased
// byte at or after off.
func nextUsed(body []byte, off uint64, pol uefi.ErasePolarity) uint64 {
	b := pol.Byte()
	i := off
	for i < uint64(len(body)) && body[i] == b {
		i++
	}
	return i &^ 7
}
