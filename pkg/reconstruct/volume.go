// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reconstruct

import (
	"fmt"
	"math"

	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// ConstructPadFile returns a pad file of size bytes: erased name and body,
// a valid state and consistent checksums, all under the given polarity.
// Pad files past 16 MiB use the large header and need an FFS3 volume.
func ConstructPadFile(size uint64, revision uint8, polarity uefi.ErasePolarity) ([]byte, error) {
	if size < uefi.FileHeaderMinLength {
		return nil, fmt.Errorf("pad file of %#x bytes cannot hold a header", size)
	}
	hdrLen := uint64(uefi.FileHeaderMinLength)
	if uefi.NeedsLargeHeader(size - hdrLen) {
		if revision < 3 {
			return nil, fmt.Errorf("%w: pad file of %#x bytes needs an FFS3 volume", ErrCapacityExceeded, size)
		}
		hdrLen = uefi.FileHeaderExtMinLength
	}
	h := uefi.FileHeaderExtended{}
	h.GUID = guid.Filled(polarity.Byte())
	h.Type = uefi.FVFileTypePad
	h.State = uefi.EncodeState(uefi.FileStateValid, polarity)
	h.SetSize(size)
	if uint64(h.HeaderLen()) != hdrLen {
		return nil, fmt.Errorf("pad file of %#x bytes has no consistent header form", size)
	}
	file := uefi.Erased(size, polarity)
	if _, err := h.Write(file); err != nil {
		return nil, err
	}
	uefi.UpdateFileChecksums(file, int(hdrLen))
	return file, nil
}

// PadFileNode wraps ConstructPadFile in a node.
func PadFileNode(size uint64, revision uint8, polarity uefi.ErasePolarity) (*layout.Node, error) {
	file, err := ConstructPadFile(size, revision, polarity)
	if err != nil {
		return nil, err
	}
	hdrLen := uefi.FileHeaderMinLength
	if size-uefi.FileHeaderMinLength > 0 && uefi.NeedsLargeHeader(size-uefi.FileHeaderMinLength) {
		hdrLen = uefi.FileHeaderExtMinLength
	}
	return &layout.Node{
		Kind:     layout.KindPadFile,
		Subtype:  uint8(uefi.FVFileTypePad),
		GUID:     guid.Filled(polarity.Byte()),
		Header:   file[:hdrLen:hdrLen],
		Body:     file[hdrLen:],
		Original: file,
		Attributes: layout.Attributes{
			ErasePolarity:       polarity,
			Revision:            revision,
			HeaderChecksumValid: true,
			DataChecksumValid:   true,
			Large:               hdrLen == uefi.FileHeaderExtMinLength,
			Alignment:           1,
			State:               uefi.FileStatusValid,
			Empty:               true,
			Opaque:              true,
		},
	}, nil
}

// GrowVolume returns a copy of the volume header hdr describing a volume
// of at least newSize bytes: the last block map entry grows, the length is
// rounded up to the block size and the checksum is recomputed. A newSize
// not larger than the current length leaves the geometry alone, the spare
// room stays erased free space. Sizes beyond ceiling fail.
func GrowVolume(hdr []byte, newSize, ceiling uint64) ([]byte, error) {
	h, err := uefi.ParseVolumeHeader(hdr)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), hdr...)
	if newSize <= h.Length {
		return out, uefi.UpdateVolumeChecksum(out)
	}
	last := &h.Blocks[len(h.Blocks)-1]
	if last.Size == 0 {
		return nil, fmt.Errorf("volume block map has a zero block size")
	}
	blockSize := uint64(last.Size)
	if newSize%blockSize != 0 {
		newSize = (newSize/blockSize + 1) * blockSize
	}
	if newSize > ceiling {
		return nil, fmt.Errorf("%w: volume needs %#x bytes, at most %#x available", ErrCapacityExceeded, newSize, ceiling)
	}
	var before uint64
	for _, b := range h.Blocks[:len(h.Blocks)-1] {
		before += uint64(b.Count) * uint64(b.Size)
	}
	if newSize < before {
		return nil, fmt.Errorf("block map covers %#x bytes before its last entry, more than %#x", before, newSize)
	}
	count := (newSize - before) / blockSize
	if count > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d blocks do not fit the block map", ErrCapacityExceeded, count)
	}
	last.Count = uint32(count)
	h.Length = newSize
	if _, err := h.Write(out); err != nil {
		return nil, err
	}
	return out, uefi.UpdateVolumeChecksum(out)
}

// buildVolume lays the files out again: at 8 byte alignment, with pad
// files in front of files whose data needs a coarser alignment, the volume
// top file at the very end and erased free space in between. A file that
// sat behind interior free space keeps its offset while the files before
// it still fit in front of it; those gaps are only given up when the
// content would not fit the volume otherwise, and then the volume grows if
// it still has to.
func (r *builder) buildVolume(n *layout.Node) (*built, error) {
	b := rebuildOf(n)
	children, err := r.buildChildren(n)
	if err != nil {
		return nil, err
	}
	if n.Attributes.Opaque || n.Attributes.Revision == 0 {
		hdr, err := GrowVolume(n.Header, 0, math.MaxUint64)
		if err != nil {
			return nil, err
		}
		b.header = hdr
		b.children = children
		return b, nil
	}

	dataOffset := uint64(len(n.Header))

	var (
		content   []*built
		afterFree []bool
		top       *built
		erased    bool
	)
	for _, c := range children {
		switch {
		case c.emptyPadding():
			// Free space is regenerated below.
			erased = true
		case c.kind() == layout.KindFile && c.guid == uefi.VolumeTopFileGUID:
			top = c
		default:
			content = append(content, c)
			afterFree = append(afterFree, erased)
			erased = false
		}
	}

	l := volumeLayout{
		dataOffset: dataOffset,
		pol:        n.Attributes.ErasePolarity,
		rev:        n.Attributes.Revision,
	}
	placed, pos, kept, err := l.place(content, afterFree, true)
	if err != nil {
		return nil, err
	}
	if kept && dataOffset+l.needed(pos, top) > uefi.VolumeLength(n.Header) {
		placed, pos, _, err = l.place(content, afterFree, false)
		if err != nil {
			return nil, err
		}
	}
	for _, c := range content {
		if c.attrs.Large && n.GUID == *uefi.FFS2 {
			b.guid = *uefi.FFS3
			b.attrs.Revision = 3
		}
	}
	pol := l.pol
	contentEnd := pos
	hdr, err := GrowVolume(n.Header, dataOffset+l.needed(contentEnd, top), math.MaxUint32)
	if err != nil {
		return nil, err
	}
	if b.guid != n.GUID {
		copy(hdr[16:], b.guid[:])
		if err := uefi.UpdateVolumeChecksum(hdr); err != nil {
			return nil, err
		}
	}
	capacity := uefi.VolumeLength(hdr) - dataOffset

	freeEnd := capacity
	if top != nil {
		top.pos = capacity - top.size()
		freeEnd = top.pos
	}
	if free := uefi.Align8(contentEnd); free < freeEnd {
		padding := PaddingNode(freeEnd-free, pol)
		pb := clean(padding)
		pb.pos = free
		placed = append(placed, pb)
	}
	if top != nil {
		placed = append(placed, top)
	}

	body := uefi.Erased(capacity, pol)
	for _, c := range placed {
		copy(body[c.pos:], c.header)
		copy(body[c.pos+uint64(len(c.header)):], c.body)
	}
	b.header = hdr
	b.body = body
	b.attrs.HeaderChecksumValid = true
	b.children = placed
	return b, nil
}

// volumeLayout places the files of one volume body.
type volumeLayout struct {
	dataOffset uint64
	pol        uefi.ErasePolarity
	rev        uint8
}

// needed is the body size holding content up to end and the top file.
func (l volumeLayout) needed(end uint64, top *built) uint64 {
	if top == nil {
		return end
	}
	return uefi.Align8(end) + top.size()
}

// place assigns body offsets to content and returns it interleaved with the
// pad files and free space it needs, the end of the last object and
// whether any interior free space was kept. With keepFree, an object that
// followed free space stays at its old offset if the objects before it
// end in front of it, far enough for the gap to read back as free space.
func (l volumeLayout) place(content []*built, afterFree []bool, keepFree bool) ([]*built, uint64, bool, error) {
	var (
		placed []*built
		pos    uint64
		kept   bool
	)
	for i, c := range content {
		pos = uefi.Align8(pos)
		if keepFree && afterFree[i] {
			if old := c.node.Pos; old%8 == 0 && old > pos && old-pos >= uefi.FileHeaderMinLength {
				if gap := l.gap(pos, old-pos, c); gap != nil {
					placed = append(placed, gap)
					pos, kept = old, true
				}
			}
		}
		if align := c.attrs.Alignment; c.kind() == layout.KindFile && align > 8 {
			data := l.dataOffset + pos + uint64(len(c.header))
			if data%align != 0 {
				gap := align - data%align
				for gap < uefi.FileHeaderMinLength {
					gap += align
				}
				pad, err := PadFileNode(gap, l.rev, l.pol)
				if err != nil {
					return nil, 0, false, err
				}
				padBuilt := clean(pad)
				padBuilt.pos = pos
				placed = append(placed, padBuilt)
				pos += gap
			}
		}
		c.pos = pos
		placed = append(placed, c)
		pos += c.size()
	}
	return placed, pos, kept, nil
}

// gap returns the filler for size bytes at pos in front of next: erased
// free space, or a pad file when the header of next starts with erased
// bytes and free space in front of it would swallow them. It returns nil if
// neither fits.
func (l volumeLayout) gap(pos, size uint64, next *built) *built {
	if len(next.header) >= 8 && !uefi.IsErased(next.header[:8], l.pol) {
		b := clean(PaddingNode(size, l.pol))
		b.pos = pos
		return b
	}
	pad, err := PadFileNode(size, l.rev, l.pol)
	if err != nil {
		return nil
	}
	b := clean(pad)
	b.pos = pos
	return b
}
