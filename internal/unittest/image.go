// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package unittest synthesises flash images for the tests of the other
// packages.
package unittest

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// BlockSize is the block size of synthesised volumes.
const BlockSize = 0x1000

// Well known names used across tests.
var (
	DXEFileGUID = *guid.MustParse("D6A2CB7F-6A18-4E2F-B43B-9920A733700A")
	RawFileGUID = *guid.MustParse("DF1CCEF6-F301-4A63-9661-FC6030DCC880")
	AppFileGUID = *guid.MustParse("7C04A583-9E3E-4F1C-AD65-E05268D0B4D1")
)

// Section returns a section with a common header.
func Section(t testing.TB, typ uefi.SectionType, body []byte) []byte {
	t.Helper()
	size := uint64(uefi.SectionHeaderLength + len(body))
	out := make([]byte, uefi.SectionHeaderLength, size)
	_, err := uefi.WriteSectionHeader(out, typ, size, false)
	require.NoError(t, err)
	return append(out, body...)
}

// UISection returns a user interface section naming its file.
func UISection(t testing.TB, name string) []byte {
	t.Helper()
	b, err := uefi.EncodeUCS2(name)
	require.NoError(t, err)
	return Section(t, uefi.SectionTypeUserInterface, b)
}

// Stream concatenates sections at 4 byte alignment.
func Stream(sections ...[]byte) []byte {
	var out []byte
	for _, s := range sections {
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
		out = append(out, s...)
	}
	return out
}

// CompressionSection wraps sections into an EFI_SECTION_COMPRESSION with
// the given type byte, compressing them with alg.
func CompressionSection(t testing.TB, alg compression.Algorithm, typ uint8, sections ...[]byte) []byte {
	t.Helper()
	stream := Stream(sections...)
	body, err := compression.Compress(stream, alg)
	require.NoError(t, err)
	extra := make([]byte, uefi.CompressionSectionHeaderLength)
	h := uefi.CompressionSectionHeader{UncompressedLength: uint32(len(stream)), CompressionType: typ}
	require.NoError(t, h.Write(extra))
	return Section(t, uefi.SectionTypeCompression, append(extra, body...))
}

// GUIDSection returns a GUID-defined section around body. extra is
// appended to the GUID-defined header and counted by DataOffset.
func GUIDSection(t testing.TB, g guid.GUID, attrs uint16, extra, body []byte) []byte {
	t.Helper()
	fields := make([]byte, uefi.GUIDDefinedSectionHeaderLength)
	h := uefi.GUIDDefinedSectionHeader{
		GUID:       g,
		DataOffset: uint16(uefi.SectionHeaderLength + uefi.GUIDDefinedSectionHeaderLength + len(extra)),
		Attributes: attrs,
	}
	require.NoError(t, h.Write(fields))
	fields = append(fields, extra...)
	return Section(t, uefi.SectionTypeGUIDDefined, append(fields, body...))
}

// CompressedGUIDSection returns a GUID-defined section holding sections
// compressed with alg.
func CompressedGUIDSection(t testing.TB, alg compression.Algorithm, sections ...[]byte) []byte {
	t.Helper()
	g, ok := compression.GUIDFromAlgorithm(alg)
	require.True(t, ok, "no GUID for %v", alg)
	body, err := compression.Compress(Stream(sections...), alg)
	require.NoError(t, err)
	return GUIDSection(t, g, uefi.GUIDEDSectionProcessingRequired, nil, body)
}

// CRC32Section returns a CRC32 GUID-defined section around sections.
func CRC32Section(t testing.TB, sections ...[]byte) []byte {
	t.Helper()
	body := Stream(sections...)
	sum := make([]byte, 4)
	binary.LittleEndian.PutUint32(sum, crc32.ChecksumIEEE(body))
	return GUIDSection(t, uefi.CRC32SectionGUID, uefi.GUIDEDSectionAuthStatusValid, sum, body)
}

// File returns a valid FFS file without a data checksum.
func File(t testing.TB, name guid.GUID, typ uefi.FVFileType, pol uefi.ErasePolarity, body []byte) []byte {
	t.Helper()
	return FileWithAttributes(t, name, typ, 0, pol, body)
}

// FileWithAttributes returns a valid FFS file with the given attributes.
func FileWithAttributes(t testing.TB, name guid.GUID, typ uefi.FVFileType, attrs uefi.FileAttribute, pol uefi.ErasePolarity, body []byte) []byte {
	t.Helper()
	var h uefi.FileHeaderExtended
	h.GUID = name
	h.Type = typ
	h.Attributes = attrs
	h.State = uefi.EncodeState(uefi.FileStateValid, pol)
	size := uint64(len(body)) + uefi.FileHeaderMinLength
	if uefi.NeedsLargeHeader(uint64(len(body))) {
		size = uint64(len(body)) + uefi.FileHeaderExtMinLength
	}
	h.SetSize(size)
	out := make([]byte, h.HeaderLen(), size)
	_, err := h.Write(out)
	require.NoError(t, err)
	out = append(out, body...)
	uefi.UpdateFileChecksums(out, h.HeaderLen())
	return out
}

// Volume returns an FFS2 volume of size bytes holding files at 8 byte
// alignment, the rest erased.
func Volume(t testing.TB, size uint64, pol uefi.ErasePolarity, files ...[]byte) []byte {
	t.Helper()
	return VolumeOf(t, *uefi.FFS2, size, pol, files...)
}

// VolumeOf is Volume with a file system GUID.
func VolumeOf(t testing.TB, fs guid.GUID, size uint64, pol uefi.ErasePolarity, files ...[]byte) []byte {
	t.Helper()
	require.Zero(t, size%BlockSize, "volume size must be a multiple of the block size")
	buf := uefi.Erased(size, pol)
	h := uefi.VolumeHeader{
		FirmwareVolumeFixedHeader: uefi.FirmwareVolumeFixedHeader{
			FileSystemGUID: fs,
			Length:         size,
			Signature:      binary.LittleEndian.Uint32(uefi.FirmwareVolumeSignature),
			Attributes:     0x0004FEFF &^ uefi.FirmwareVolumeAttributeErasePolarity,
			HeaderLen:      uefi.FirmwareVolumeMinSize + 8,
			Revision:       2,
		},
		Blocks: []uefi.Block{{Count: uint32(size / BlockSize), Size: BlockSize}},
	}
	if pol == uefi.ErasePolarityOne {
		h.Attributes |= uefi.FirmwareVolumeAttributeErasePolarity
	}
	_, err := h.Write(buf)
	require.NoError(t, err)
	require.NoError(t, uefi.UpdateVolumeChecksum(buf))

	off := uint64(h.HeaderLen)
	for _, f := range files {
		off = uefi.Align8(off)
		require.LessOrEqual(t, off+uint64(len(f)), size, "files do not fit the volume")
		copy(buf[off:], f)
		off += uint64(len(f))
	}
	return buf
}

// Descriptor returns the 4 KiB descriptor region of an image declaring the
// given regions. Undeclared FLREG entries are marked unused.
func Descriptor(regions map[uefi.FlashRegionType]uefi.FlashRegion) []byte {
	buf := make([]byte, uefi.FlashDescriptorLength)
	for i := range buf {
		buf[i] = 0xFF
	}
	const regionBase = 0x04
	copy(buf[:16], make([]byte, 16))
	copy(buf[16:], uefi.FlashSignature)
	copy(buf[20:36], make([]byte, 16))
	buf[20+2] = regionBase
	copy(buf[regionBase*0x10:], make([]byte, 4))
	for i := 0; i < 15; i++ {
		r, ok := regions[uefi.FlashRegionType(i)]
		if !ok {
			r = uefi.FlashRegion{Base: 0x7FFF}
		}
		off := regionBase*0x10 + 4 + i*4
		binary.LittleEndian.PutUint16(buf[off:], r.Base)
		binary.LittleEndian.PutUint16(buf[off+2:], r.Limit)
	}
	return buf
}

// IntelImage lays a descriptor and region contents out in an erased image
// of size bytes. contents are copied at the base of their region.
func IntelImage(size uint64, regions map[uefi.FlashRegionType]uefi.FlashRegion, contents map[uefi.FlashRegionType][]byte) []byte {
	img := uefi.Erased(size, uefi.ErasePolarityOne)
	copy(img, Descriptor(regions))
	for typ, data := range contents {
		copy(img[regions[typ].BaseOffset():], data)
	}
	return img
}
