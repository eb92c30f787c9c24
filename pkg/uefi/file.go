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
)

// FVFileType represents the different types possible in an EFI file.
type FVFileType uint8

// UEFI FV File types.
const (
	FVFileTypeAll FVFileType = iota
	FVFileTypeRaw
	FVFileTypeFreeForm
	FVFileTypeSECCore
	FVFileTypePEICore
	FVFileTypeDXECore
	FVFileTypePEIM
	FVFileTypeDriver
	FVFileTypeCombinedPEIMDriver
	FVFileTypeApplication
	FVFileTypeSMM
	FVFileTypeVolumeImage
	FVFileTypeCombinedSMMDXE
	FVFileTypeSMMCore
	FVFileTypeSMMStandalone
	FVFileTypeSMMCoreStandalone
	FVFileTypeOEMMin   FVFileType = 0xC0
	FVFileTypeOEMMax   FVFileType = 0xDF
	FVFileTypeDebugMin FVFileType = 0xE0
	FVFileTypeDebugMax FVFileType = 0xEF
	FVFileTypePad      FVFileType = 0xF0
	FVFileTypeFFSMax   FVFileType = 0xFF
)

var fileTypeNames = map[FVFileType]string{
	FVFileTypeRaw:                "EFI_FV_FILETYPE_RAW",
	FVFileTypeFreeForm:           "EFI_FV_FILETYPE_FREEFORM",
	FVFileTypeSECCore:            "EFI_FV_FILETYPE_SECURITY_CORE",
	FVFileTypePEICore:            "EFI_FV_FILETYPE_PEI_CORE",
	FVFileTypeDXECore:            "EFI_FV_FILETYPE_DXE_CORE",
	FVFileTypePEIM:               "EFI_FV_FILETYPE_PEIM",
	FVFileTypeDriver:             "EFI_FV_FILETYPE_DRIVER",
	FVFileTypeCombinedPEIMDriver: "EFI_FV_FILETYPE_COMBINED_PEIM_DRIVER",
	FVFileTypeApplication:        "EFI_FV_FILETYPE_APPLICATION",
	FVFileTypeSMM:                "EFI_FV_FILETYPE_MM",
	FVFileTypeVolumeImage:        "EFI_FV_FILETYPE_FIRMWARE_VOLUME_IMAGE",
	FVFileTypeCombinedSMMDXE:     "EFI_FV_FILETYPE_COMBINED_MM_DXE",
	FVFileTypeSMMCore:            "EFI_FV_FILETYPE_MM_CORE",
	FVFileTypeSMMStandalone:      "EFI_FV_FILETYPE_MM_STANDALONE",
	FVFileTypeSMMCoreStandalone:  "EFI_FV_FILETYPE_MM_CORE_STANDALONE",
	FVFileTypePad:                "EFI_FV_FILETYPE_FFS_PAD",
}

func (t FVFileType) String() string {
	if s, ok := fileTypeNames[t]; ok {
		return s
	}
	switch {
	case t >= FVFileTypeOEMMin && t <= FVFileTypeOEMMax:
		return fmt.Sprintf("EFI_FV_FILETYPE_OEM (%#x)", uint8(t))
	case t >= FVFileTypeDebugMin && t <= FVFileTypeDebugMax:
		return fmt.Sprintf("EFI_FV_FILETYPE_DEBUG (%#x)", uint8(t))
	}
	return fmt.Sprintf("EFI_FV_FILETYPE (%#x)", uint8(t))
}

// HasSections reports whether files of this type carry a section stream.
func (t FVFileType) HasSections() bool {
	switch t {
	case FVFileTypeAll, FVFileTypeRaw, FVFileTypePad:
		return false
	}
	return t < FVFileTypeOEMMin
}

const (
	// FileHeaderMinLength is the minimum length of a firmware file header.
	FileHeaderMinLength = 0x18
	// FileHeaderExtMinLength is the minimum length of an extended firmware file header.
	FileHeaderExtMinLength = 0x20
	// EmptyBodyChecksum is stored in IntegrityCheck.File when the body is
	// not checksummed.
	EmptyBodyChecksum uint8 = 0xAA

	fileChecksumHeaderOffset = 16
	fileChecksumFileOffset   = 17
	fileStateOffset          = 23
	fileMaxSmallSize         = 0xFFFFFF
)

// VolumeTopFileGUID names the file that must end at the top of its volume.
var VolumeTopFileGUID = *guid.MustParse("1BA0062E-C779-4582-8566-336AE8F78F09")

// FileAttribute is the attribute byte of a file header.
type FileAttribute uint8

// File attribute bits.
const (
	FileAttributeLargeFile      FileAttribute = 0x01
	FileAttributeDataAlignment2 FileAttribute = 0x02
	FileAttributeFixed          FileAttribute = 0x04
	FileAttributeDataAlignment  FileAttribute = 0x38
	FileAttributeChecksum       FileAttribute = 0x40
)

// IsLarge reports whether the header carries an 8 byte extended size.
func (a FileAttribute) IsLarge() bool {
	return a&FileAttributeLargeFile != 0
}

// HasChecksum reports whether the body is covered by IntegrityCheck.File.
func (a FileAttribute) HasChecksum() bool {
	return a&FileAttributeChecksum != 0
}

// IsFixed reports whether the file may not be moved inside its volume.
func (a FileAttribute) IsFixed() bool {
	return a&FileAttributeFixed != 0
}

var alignments = [...]uint64{1, 16, 128, 512, 1024, 4 * 1024, 32 * 1024, 64 * 1024}

// Alignment returns the data alignment the file requires.
func (a FileAttribute) Alignment() uint64 {
	return alignments[(a&FileAttributeDataAlignment)>>3]
}

// File state bits, stored inverted on volumes erased to 0xFF.
const (
	FileStateHeaderConstruction uint8 = 0x01
	FileStateHeaderValid        uint8 = 0x02
	FileStateDataValid          uint8 = 0x04
	FileStateMarkedForUpdate    uint8 = 0x08
	FileStateDeleted            uint8 = 0x10
	FileStateHeaderInvalid      uint8 = 0x20

	// FileStateValid is the state of a completely written file.
	FileStateValid = FileStateHeaderConstruction | FileStateHeaderValid | FileStateDataValid
)

// FileStatus classifies a file by its state byte.
type FileStatus int

// File statuses.
const (
	FileStatusValid FileStatus = iota
	FileStatusInProgress
	FileStatusDeleted
	FileStatusInvalid
)

func (s FileStatus) String() string {
	switch s {
	case FileStatusValid:
		return "valid"
	case FileStatusInProgress:
		return "in-progress"
	case FileStatusDeleted:
		return "deleted"
	}
	return "invalid"
}

// ClassifyState interprets a raw state byte under the erase polarity. The
// highest set bit wins.
func ClassifyState(state uint8, polarity ErasePolarity) FileStatus {
	if polarity == ErasePolarityOne {
		state = ^state
	}
	switch {
	case state&FileStateHeaderInvalid != 0:
		return FileStatusInvalid
	case state&FileStateDeleted != 0:
		return FileStatusDeleted
	case state&(FileStateMarkedForUpdate|FileStateDataValid) != 0:
		return FileStatusValid
	case state&(FileStateHeaderValid|FileStateHeaderConstruction) != 0:
		return FileStatusInProgress
	}
	return FileStatusInvalid
}

// EncodeState stores state bits under the erase polarity.
func EncodeState(state uint8, polarity ErasePolarity) uint8 {
	if polarity == ErasePolarityOne {
		return ^state
	}
	return state
}

// IntegrityCheck holds the two 8 bit checksums for the file header and body separately.
type IntegrityCheck struct {
	Header uint8
	File   uint8
}

// FileHeader represents an EFI File header.
type FileHeader struct {
	GUID       guid.GUID
	Checksum   IntegrityCheck
	Type       FVFileType
	Attributes FileAttribute
	Size       [3]uint8
	State      uint8
}

// FileHeaderExtended is the file header with the extended size. For small
// files ExtendedSize holds a copy of the 3 byte size, so callers only read
// one field.
type FileHeaderExtended struct {
	FileHeader
	ExtendedSize uint64
}

// HeaderLen is the serialized header length.
func (h *FileHeaderExtended) HeaderLen() int {
	if h.Attributes.IsLarge() {
		return FileHeaderExtMinLength
	}
	return FileHeaderMinLength
}

// ParseFileHeader decodes the file header at the start of buf.
func ParseFileHeader(buf []byte) (*FileHeaderExtended, error) {
	if len(buf) < FileHeaderMinLength {
		return nil, fmt.Errorf("file header needs %#x bytes, got %#x", FileHeaderMinLength, len(buf))
	}
	var h FileHeaderExtended
	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &h.FileHeader); err != nil {
		return nil, err
	}
	if !h.Attributes.IsLarge() {
		h.ExtendedSize = Read3Size(h.Size)
		return &h, nil
	}
	if len(buf) < FileHeaderExtMinLength {
		return nil, fmt.Errorf("large file header needs %#x bytes, got %#x", FileHeaderExtMinLength, len(buf))
	}
	if err := binary.Read(r, binary.LittleEndian, &h.ExtendedSize); err != nil {
		return nil, err
	}
	return &h, nil
}

// Write serializes the header into the start of b.
func (h *FileHeaderExtended) Write(b []byte) (int, error) {
	n := h.HeaderLen()
	if len(b) < n {
		return 0, fmt.Errorf("file header needs %#x bytes, buffer has %#x", n, len(b))
	}
	w := bytesextra.NewReadWriteSeeker(b)
	if err := binary.Write(w, binary.LittleEndian, &h.FileHeader); err != nil {
		return 0, err
	}
	if h.Attributes.IsLarge() {
		if err := binary.Write(w, binary.LittleEndian, h.ExtendedSize); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// SetSize records size, switching between the small and the large header
// form as needed. Size includes the header, so callers pick the form first
// with NeedsLargeHeader.
func (h *FileHeaderExtended) SetSize(size uint64) {
	if size > fileMaxSmallSize {
		h.Attributes |= FileAttributeLargeFile
		h.Size = [3]uint8{0xFF, 0xFF, 0xFF}
	} else {
		h.Attributes &^= FileAttributeLargeFile
		h.Size = Write3Size(size)
	}
	h.ExtendedSize = size
}

// NeedsLargeHeader reports whether a file with bodyLen bytes of body must
// use the large header.
func NeedsLargeHeader(bodyLen uint64) bool {
	return bodyLen+FileHeaderMinLength > fileMaxSmallSize
}

// FileHeaderChecksum computes IntegrityCheck.Header for a serialized header:
// the value that makes the header sum to zero with the file checksum and
// the state byte taken as zero.
func FileHeaderChecksum(hdr []byte) uint8 {
	sum := Checksum8(hdr)
	sum -= hdr[fileChecksumHeaderOffset]
	sum -= hdr[fileChecksumFileOffset]
	sum -= hdr[fileStateOffset]
	return 0 - sum
}

// FileDataChecksum computes IntegrityCheck.File for a body.
func FileDataChecksum(body []byte) uint8 {
	return 0 - Checksum8(body)
}

// UpdateFileChecksums recomputes both checksums of a serialized file in
// place. hdrLen splits header from body.
func UpdateFileChecksums(file []byte, hdrLen int) {
	hdr := file[:hdrLen]
	attrs := FileAttribute(hdr[19])
	if attrs.HasChecksum() {
		hdr[fileChecksumFileOffset] = FileDataChecksum(file[hdrLen:])
	} else {
		hdr[fileChecksumFileOffset] = EmptyBodyChecksum
	}
	hdr[fileChecksumHeaderOffset] = FileHeaderChecksum(hdr)
}

// FileChecksumsValid checks both checksums of a serialized file.
func FileChecksumsValid(file []byte, hdrLen int) (headerOK, dataOK bool) {
	hdr := file[:hdrLen]
	headerOK = FileHeaderChecksum(hdr) == hdr[fileChecksumHeaderOffset]
	if FileAttribute(hdr[19]).HasChecksum() {
		dataOK = FileDataChecksum(file[hdrLen:]) == hdr[fileChecksumFileOffset]
	} else {
		dataOK = hdr[fileChecksumFileOffset] == EmptyBodyChecksum
	}
	return headerOK, dataOK
}
