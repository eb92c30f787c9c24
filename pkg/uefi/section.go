// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/xaionaro-go/bytesextra"
	"golang.org/x/text/encoding/unicode"
)

// SectionType holds a section type value
type SectionType uint8

// UEFI Section types
const (
	SectionTypeAll                 SectionType = 0x00
	SectionTypeCompression         SectionType = 0x01
	SectionTypeGUIDDefined         SectionType = 0x02
	SectionTypeDisposable          SectionType = 0x03
	SectionTypePE32                SectionType = 0x10
	SectionTypePIC                 SectionType = 0x11
	SectionTypeTE                  SectionType = 0x12
	SectionTypeDXEDepEx            SectionType = 0x13
	SectionTypeVersion             SectionType = 0x14
	SectionTypeUserInterface       SectionType = 0x15
	SectionTypeCompatibility16     SectionType = 0x16
	SectionTypeFirmwareVolumeImage SectionType = 0x17
	SectionTypeFreeformSubtypeGUID SectionType = 0x18
	SectionTypeRaw                 SectionType = 0x19
	SectionTypePEIDepEx            SectionType = 0x1b
	SectionMMDepEx                 SectionType = 0x1c
)

var sectionNames = map[SectionType]string{
	SectionTypeCompression:         "EFI_SECTION_COMPRESSION",
	SectionTypeGUIDDefined:         "EFI_SECTION_GUID_DEFINED",
	SectionTypeDisposable:          "EFI_SECTION_DISPOSABLE",
	SectionTypePE32:                "EFI_SECTION_PE32",
	SectionTypePIC:                 "EFI_SECTION_PIC",
	SectionTypeTE:                  "EFI_SECTION_TE",
	SectionTypeDXEDepEx:            "EFI_SECTION_DXE_DEPEX",
	SectionTypeVersion:             "EFI_SECTION_VERSION",
	SectionTypeUserInterface:       "EFI_SECTION_USER_INTERFACE",
	SectionTypeCompatibility16:     "EFI_SECTION_COMPATIBILITY16",
	SectionTypeFirmwareVolumeImage: "EFI_SECTION_FIRMWARE_VOLUME_IMAGE",
	SectionTypeFreeformSubtypeGUID: "EFI_SECTION_FREEFORM_SUBTYPE_GUID",
	SectionTypeRaw:                 "EFI_SECTION_RAW",
	SectionTypePEIDepEx:            "EFI_SECTION_PEI_DEPEX",
	SectionMMDepEx:                 "EFI_SECTION_MM_DEPEX",
}

// String creates a string representation for the section type.
func (s SectionType) String() string {
	if t, ok := sectionNames[s]; ok {
		return t
	}
	return fmt.Sprintf("UNKNOWN_SECTION (%#x)", uint8(s))
}

// Known reports whether the type is one the PI specification defines.
func (s SectionType) Known() bool {
	_, ok := sectionNames[s]
	return ok
}

// IsEncapsulation reports whether the section body is another section
// stream (possibly after decoding).
func (s SectionType) IsEncapsulation() bool {
	switch s {
	case SectionTypeCompression, SectionTypeGUIDDefined, SectionTypeDisposable:
		return true
	}
	return false
}

const (
	// SectionHeaderLength is the common section header length.
	SectionHeaderLength = 4
	// SectionExtHeaderLength is the common header with the extended size.
	SectionExtHeaderLength = 8

	sectionMaxSmallSize = 0xFFFFFF
)

// Compression types of EFI_SECTION_COMPRESSION.
const (
	CompressionTypeNone       uint8 = 0x00
	CompressionTypeStandard   uint8 = 0x01
	CompressionTypeCustomized uint8 = 0x02
)

// GUID-defined section attribute bits.
const (
	GUIDEDSectionProcessingRequired uint16 = 0x01
	GUIDEDSectionAuthStatusValid    uint16 = 0x02
)

// CRC32SectionGUID names the GUID-defined wrapper carrying a CRC32 of its
// payload.
var CRC32SectionGUID = *guid.MustParse("FC1BCDB0-7D31-49AA-936A-A4600D9DD083")

// SectionHeader is the common section header.
type SectionHeader struct {
	Size [3]uint8
	Type SectionType
}

// CompressionSectionHeader follows the common header of a compression section.
type CompressionSectionHeader struct {
	UncompressedLength uint32
	CompressionType    uint8
}

// CompressionSectionHeaderLength is len(CompressionSectionHeader).
const CompressionSectionHeaderLength = 5

// GUIDDefinedSectionHeader follows the common header of a GUID-defined section.
type GUIDDefinedSectionHeader struct {
	GUID       guid.GUID
	DataOffset uint16
	Attributes uint16
}

// GUIDDefinedSectionHeaderLength is len(GUIDDefinedSectionHeader).
const GUIDDefinedSectionHeaderLength = 20

// SectionSize reads the common header at the start of buf and returns the
// declared section size and the common header length (4, or 8 with the
// extended size).
func SectionSize(buf []byte) (uint64, int, error) {
	if len(buf) < SectionHeaderLength {
		return 0, 0, fmt.Errorf("section header needs %d bytes, got %d", SectionHeaderLength, len(buf))
	}
	var size [3]uint8
	copy(size[:], buf[:3])
	if s := Read3Size(size); s != sectionMaxSmallSize {
		return s, SectionHeaderLength, nil
	}
	if len(buf) < SectionExtHeaderLength {
		return 0, 0, fmt.Errorf("extended section header needs %d bytes, got %d", SectionExtHeaderLength, len(buf))
	}
	return uint64(binary.LittleEndian.Uint32(buf[4:])), SectionExtHeaderLength, nil
}

// NeedsExtendedSize reports whether a section of size bytes (with a small
// header) overflows the 3 byte size field.
func NeedsExtendedSize(size uint64) bool {
	return size >= sectionMaxSmallSize
}

// WriteSectionHeader serializes a common header for a section of the given
// total size. ext selects the extended form.
func WriteSectionHeader(b []byte, typ SectionType, size uint64, ext bool) (int, error) {
	n := SectionHeaderLength
	if ext {
		n = SectionExtHeaderLength
	}
	if len(b) < n {
		return 0, fmt.Errorf("section header needs %d bytes, buffer has %d", n, len(b))
	}
	w := bytesextra.NewReadWriteSeeker(b)
	h := SectionHeader{Type: typ, Size: Write3Size(size)}
	if ext {
		h.Size = [3]uint8{0xFF, 0xFF, 0xFF}
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return 0, err
	}
	if ext {
		if size > 0xFFFFFFFF {
			return 0, fmt.Errorf("section size %#x does not fit the extended size field", size)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(size)); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// ReadCompressionHeader decodes the compression section fields at b.
func ReadCompressionHeader(b []byte) (*CompressionSectionHeader, error) {
	var h CompressionSectionHeader
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("compression section header: %w", err)
	}
	return &h, nil
}

// Write serializes the compression section fields into b.
func (h *CompressionSectionHeader) Write(b []byte) error {
	return binary.Write(bytesextra.NewReadWriteSeeker(b), binary.LittleEndian, h)
}

// ReadGUIDDefinedHeader decodes the GUID-defined section fields at b.
func ReadGUIDDefinedHeader(b []byte) (*GUIDDefinedSectionHeader, error) {
	var h GUIDDefinedSectionHeader
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("GUID-defined section header: %w", err)
	}
	return &h, nil
}

// Write serializes the GUID-defined section fields into b.
func (h *GUIDDefinedSectionHeader) Write(b []byte) error {
	return binary.Write(bytesextra.NewReadWriteSeeker(b), binary.LittleEndian, h)
}

var ucs2 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DecodeUCS2 decodes a NUL terminated UCS-2 string as found in user
// interface and version sections.
func DecodeUCS2(b []byte) (string, error) {
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	out, err := ucs2.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// EncodeUCS2 encodes s as a NUL terminated UCS-2 string.
func EncodeUCS2(s string) ([]byte, error) {
	out, err := ucs2.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return append(out, 0, 0), nil
}
