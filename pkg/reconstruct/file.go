// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reconstruct

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/parser"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// sectionStream concatenates sections at 4 byte alignment, zero filled.
func sectionStream(children []*built) []byte {
	var stream []byte
	for _, c := range children {
		pos := uefi.Align4(uint64(len(stream)))
		for uint64(len(stream)) < pos {
			stream = append(stream, 0)
		}
		c.pos = pos
		stream = append(stream, c.header...)
		stream = append(stream, c.body...)
	}
	return stream
}

// volumeStream concatenates the volumes and padding of an FV image.
func volumeStream(children []*built) []byte {
	var stream []byte
	for _, c := range children {
		c.pos = uint64(len(stream))
		stream = append(stream, c.header...)
		stream = append(stream, c.body...)
	}
	return stream
}

// buildFile rebuilds the section stream of a file, then its header: size
// (switching to the large form past 16 MiB), state and both checksums.
func (r *builder) buildFile(n *layout.Node) (*built, error) {
	b := rebuildOf(n)
	children, err := r.buildChildren(n)
	if err != nil {
		return nil, err
	}
	body := n.Body
	if len(children) > 0 && !n.Attributes.Opaque {
		body = sectionStream(children)
	}
	b.children = children

	h, err := uefi.ParseFileHeader(n.Header)
	if err != nil {
		return nil, err
	}
	size := uint64(len(body)) + uefi.FileHeaderMinLength
	if uefi.NeedsLargeHeader(uint64(len(body))) {
		size = uint64(len(body)) + uefi.FileHeaderExtMinLength
	}
	h.SetSize(size)
	hdrLen := h.HeaderLen()
	file := make([]byte, hdrLen, size)
	if _, err := h.Write(file); err != nil {
		return nil, err
	}
	file = append(file, body...)
	uefi.UpdateFileChecksums(file, hdrLen)

	b.header = file[:hdrLen:hdrLen]
	b.body = file[hdrLen:]
	b.attrs.Large = h.Attributes.IsLarge()
	b.attrs.HeaderChecksumValid = true
	b.attrs.DataChecksumValid = true
	return b, nil
}

// buildSection rebuilds the payload of a section from its children,
// compressing it again when the section is compressed, then its header.
func (r *builder) buildSection(n *layout.Node) (*built, error) {
	b := rebuildOf(n)
	children, err := r.buildChildren(n)
	if err != nil {
		return nil, err
	}
	b.children = children
	typ := uefi.SectionType(n.Subtype)
	_, oldCommon, err := uefi.SectionSize(n.Header)
	if err != nil {
		return nil, err
	}
	extra := append([]byte(nil), n.Header[oldCommon:]...)

	stream := n.DataStream()
	if !n.Attributes.Opaque && len(children) > 0 {
		if typ == uefi.SectionTypeFirmwareVolumeImage {
			stream = volumeStream(children)
		} else {
			stream = sectionStream(children)
		}
	}

	body := stream
	if n.HasDecodedStream() {
		body, err = r.opts.Compression.Compress(stream, n.Attributes.Compression)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", n.Attributes.Compression, err)
		}
		b.stream = stream
		b.attrs.CompressedSize = uint64(len(body))
	} else if n.Attributes.Opaque {
		body = n.Body
	}

	switch typ {
	case uefi.SectionTypeCompression:
		if n.HasDecodedStream() {
			ct, ok := parser.CompressionType(n.Attributes.Compression)
			if !ok {
				return nil, fmt.Errorf("%w: %v in a compression section", compression.ErrUnsupportedAlgorithm, n.Attributes.Compression)
			}
			h := uefi.CompressionSectionHeader{UncompressedLength: uint32(len(stream)), CompressionType: ct}
			if err := h.Write(extra); err != nil {
				return nil, err
			}
		}
	case uefi.SectionTypeGUIDDefined:
		if err := r.patchGUIDDefined(n, b, extra, body); err != nil {
			return nil, err
		}
	}

	size := uint64(uefi.SectionHeaderLength + len(extra) + len(body))
	ext := uefi.NeedsExtendedSize(size)
	common := uefi.SectionHeaderLength
	if ext {
		common = uefi.SectionExtHeaderLength
		size += uefi.SectionExtHeaderLength - uefi.SectionHeaderLength
	}
	if typ == uefi.SectionTypeGUIDDefined {
		// DataOffset counts the common header.
		binary.LittleEndian.PutUint16(extra[16:], uint16(common+len(extra)))
	}
	hdr := make([]byte, common+len(extra))
	if _, err := uefi.WriteSectionHeader(hdr, typ, size, ext); err != nil {
		return nil, err
	}
	copy(hdr[common:], extra)
	b.header = hdr
	b.body = body
	b.attrs.Large = ext
	return b, nil
}

// patchGUIDDefined updates the GUID and CRC32 fields of a GUID-defined
// section header. extra is the header past the common part.
func (r *builder) patchGUIDDefined(n *layout.Node, b *built, extra, body []byte) error {
	if len(extra) < uefi.GUIDDefinedSectionHeaderLength {
		return fmt.Errorf("GUID-defined header of %d bytes", len(extra))
	}
	if n.HasDecodedStream() {
		if g, ok := compression.GUIDFromAlgorithm(n.Attributes.Compression); ok {
			b.guid = g
			copy(extra, g[:])
		}
	}
	if b.guid == uefi.CRC32SectionGUID && len(extra) >= uefi.GUIDDefinedSectionHeaderLength+4 {
		binary.LittleEndian.PutUint32(extra[uefi.GUIDDefinedSectionHeaderLength:], crc32.ChecksumIEEE(body))
		b.attrs.DataChecksumValid = true
	}
	return nil
}
