// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parser

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// CRC32 wrapped sections carry the checksum right after the GUID-defined
// header.
const crc32FieldLength = 4

// CompressionAlgorithm maps the type byte of a compression section to the
// codec that decodes it. Standard compression may be either EFI variant.
func CompressionAlgorithm(t uint8) (compression.Algorithm, error) {
	switch t {
	case uefi.CompressionTypeNone:
		return compression.AlgorithmNone, nil
	case uefi.CompressionTypeStandard:
		return compression.AlgorithmTiano, nil
	case uefi.CompressionTypeCustomized:
		return compression.AlgorithmLZMA, nil
	}
	return 0, fmt.Errorf("%w: compression type %#x", compression.ErrUnsupportedAlgorithm, t)
}

// CompressionType is the inverse of CompressionAlgorithm.
func CompressionType(a compression.Algorithm) (uint8, bool) {
	switch a {
	case compression.AlgorithmNone:
		return uefi.CompressionTypeNone, true
	case compression.AlgorithmEFI, compression.AlgorithmTiano:
		return uefi.CompressionTypeStandard, true
	case compression.AlgorithmLZMA:
		return uefi.CompressionTypeCustomized, true
	}
	return 0, false
}

func looksLikeSection(data []byte) bool {
	size, hdrLen, err := uefi.SectionSize(data)
	if err != nil || size < uint64(hdrLen) || size > uint64(len(data)) || uint64(len(data))-size >= 4 {
		return false
	}
	return uefi.SectionType(data[3]).Known()
}

// parseSectionStream parses data, the body or decoded stream of parent, as
// sections at 4 byte alignment.
func (p *parser) parseSectionStream(parent *layout.Node, data []byte, ctx Context) {
	end := uint64(len(data))
	var off uint64
	for off < end {
		if end-off < uefi.SectionHeaderLength {
			p.addTrailing(parent, off, data, ctx)
			return
		}
		size, hdrLen, err := uefi.SectionSize(data[off:])
		switch {
		case err != nil:
			err = fmt.Errorf("%w: %v", ErrStructuralTruncation, err)
		case size < uint64(hdrLen):
			err = fmt.Errorf("section at %#x declares %#x bytes, less than its header", off, size)
		case size > end-off:
			err = fmt.Errorf("%w: section of %#x bytes at %#x runs past %#x", ErrStructuralTruncation, size, off, end)
		}
		if err != nil {
			if uefi.IsErased(data[off:], ctx.ErasePolarity) || uefi.IsErased(data[off:], uefi.ErasePolarityZero) {
				p.addTrailing(parent, off, data, ctx)
				return
			}
			p.diag.Errorf(parent.Path(), unwrapTaxonomy(err), "%v", err)
			if p.addPadding(parent, off, data[off:], ctx.ErasePolarity) == nil {
				makeOpaque(parent)
			}
			return
		}
		if !p.parseSection(parent, off, data[off:off+size:off+size], hdrLen, ctx) {
			makeOpaque(parent)
			return
		}
		off = uefi.Align4(off + size)
	}
}

// addTrailing keeps bytes after the last section.
func (p *parser) addTrailing(parent *layout.Node, off uint64, data []byte, ctx Context) {
	n := p.addPadding(parent, off, data[off:], ctx.ErasePolarity)
	if n == nil {
		makeOpaque(parent)
		return
	}
	p.diag.Infof(n.Path(), "%#x bytes after the last section", len(n.Body))
}

func (p *parser) parseSection(parent *layout.Node, pos uint64, raw []byte, hdrLen int, ctx Context) bool {
	typ := uefi.SectionType(raw[3])
	extra := 0
	switch typ {
	case uefi.SectionTypeCompression:
		extra = uefi.CompressionSectionHeaderLength
	case uefi.SectionTypeGUIDDefined:
		extra = uefi.GUIDDefinedSectionHeaderLength
	case uefi.SectionTypeFreeformSubtypeGUID:
		extra = guid.Size
	}
	if hdrLen+extra > len(raw) {
		p.diag.Errorf(parent.Path(), ErrStructuralTruncation, "%v at %#x: %#x bytes cannot hold its header", typ, pos, len(raw))
		return p.addPadding(parent, pos, raw, ctx.ErasePolarity) != nil
	}

	n := newNode(layout.KindSection, pos, raw, hdrLen+extra)
	n.Subtype = uint8(typ)
	n.Attributes.ErasePolarity = ctx.ErasePolarity
	n.Attributes.Revision = ctx.Revision
	n.Attributes.Large = hdrLen == uefi.SectionExtHeaderLength
	n.Attributes.HeaderChecksumValid = true
	n.Attributes.DataChecksumValid = true

	var gh *uefi.GUIDDefinedSectionHeader
	if typ == uefi.SectionTypeGUIDDefined {
		gh, _ = uefi.ReadGUIDDefinedHeader(raw[hdrLen:])
		n.GUID = gh.GUID
		if off := int(gh.DataOffset); off >= hdrLen+extra && off <= len(raw) {
			n.Header, n.Body = raw[:off:off], raw[off:]
		}
	}
	if typ == uefi.SectionTypeFreeformSubtypeGUID {
		n.GUID, _ = guid.FromBytes(raw[hdrLen : hdrLen+extra])
	}
	if !p.attach(parent, n) {
		return false
	}
	path := n.Path()
	if n.Attributes.Large && ctx.Revision < 3 {
		p.diag.Warnf(path, nil, "%v with an extended size in an FFS%d context", typ, ctx.Revision)
	}

	switch typ {
	case uefi.SectionTypeCompression:
		h, _ := uefi.ReadCompressionHeader(raw[hdrLen:])
		alg, err := CompressionAlgorithm(h.CompressionType)
		if err != nil {
			p.diag.Warnf(path, err, "%v", err)
			n.Attributes.Opaque = true
			return true
		}
		p.decodeSection(n, alg, uint64(h.UncompressedLength), ctx)
	case uefi.SectionTypeGUIDDefined:
		p.parseGUIDDefined(n, gh, hdrLen, ctx)
	case uefi.SectionTypeDisposable:
		p.parseSectionStream(n, n.Body, ctx)
	case uefi.SectionTypeFirmwareVolumeImage:
		p.parseVolumeChain(n, n.Body, ctx.ErasePolarity)
	case uefi.SectionTypeUserInterface:
		name, err := uefi.DecodeUCS2(n.Body)
		if err != nil {
			p.diag.Warnf(path, nil, "user interface name: %v", err)
			break
		}
		n.Attributes.Name = name
		if f := n.FindParentOfKind(layout.KindFile); f != nil && f.Attributes.Name == "" {
			f.Attributes.Name = name
		}
	case uefi.SectionTypeVersion:
		if len(n.Body) < 2 {
			p.diag.Warnf(path, nil, "version section too short")
			break
		}
		v, err := uefi.DecodeUCS2(n.Body[2:])
		if err != nil {
			p.diag.Warnf(path, nil, "version string: %v", err)
			break
		}
		n.Attributes.Version = v
		if f := n.FindParentOfKind(layout.KindFile); f != nil && f.Attributes.Version == "" {
			f.Attributes.Version = v
		}
	default:
		if !typ.Known() {
			p.diag.Warnf(path, nil, "unknown section type %#x", uint8(typ))
		}
	}
	return true
}

// decodeSection decompresses the body of n and parses the result.
func (p *parser) decodeSection(n *layout.Node, alg compression.Algorithm, declared uint64, ctx Context) {
	path := n.Path()
	n.Attributes.Compression = alg
	n.Attributes.CompressedSize = uint64(len(n.Body))
	out, resolved, err := p.opts.Compression.Decompress(n.Body, alg)
	if err != nil {
		p.diag.Warnf(path, err, "%v section body left opaque: %v", alg, err)
		n.Attributes.Opaque = true
		return
	}
	n.Attributes.Compression = resolved
	if declared != 0 && declared != uint64(len(out)) {
		p.diag.Warnf(path, nil, "declared uncompressed size %#x, decoded %#x bytes", declared, len(out))
	}
	n.Uncompressed = out[:len(out):len(out)]
	p.parseSectionStream(n, n.Uncompressed, ctx)
}

func (p *parser) parseGUIDDefined(n *layout.Node, gh *uefi.GUIDDefinedSectionHeader, hdrLen int, ctx Context) {
	path := n.Path()
	if int(gh.DataOffset) < hdrLen+uefi.GUIDDefinedSectionHeaderLength || int(gh.DataOffset) > len(n.Original) {
		p.diag.Warnf(path, nil, "GUID-defined data offset %#x is outside the section", gh.DataOffset)
	}
	if alg, ok := compression.AlgorithmFromGUID(gh.GUID); ok {
		p.decodeSection(n, alg, 0, ctx)
		return
	}
	if gh.GUID == uefi.CRC32SectionGUID {
		fieldStart := hdrLen + uefi.GUIDDefinedSectionHeaderLength
		if len(n.Header) < fieldStart+crc32FieldLength {
			p.diag.Warnf(path, nil, "CRC32 section has no room for its checksum")
		} else {
			want := binary.LittleEndian.Uint32(n.Header[fieldStart:])
			n.Attributes.DataChecksumValid = crc32.ChecksumIEEE(n.Body) == want
			if !n.Attributes.DataChecksumValid {
				p.diag.Warnf(path, nil, "CRC32 mismatch")
			}
		}
		p.parseSectionStream(n, n.Body, ctx)
		return
	}
	if gh.Attributes&uefi.GUIDEDSectionProcessingRequired == 0 {
		p.parseSectionStream(n, n.Body, ctx)
		return
	}
	p.diag.Infof(path, "GUID-defined section %v needs processing, left opaque", gh.GUID)
	n.Attributes.Opaque = true
}
