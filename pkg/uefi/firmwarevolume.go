// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/xaionaro-go/bytesextra"
)

// FirmwareVolume constants
const (
	FirmwareVolumeFixedHeaderSize  = 56
	FirmwareVolumeMinSize          = FirmwareVolumeFixedHeaderSize + 8 // +8 for the null block that terminates the block list
	FirmwareVolumeExtHeaderMinSize = 20
	// FirmwareVolumeSignatureOffset is where "_FVH" sits inside the header.
	FirmwareVolumeSignatureOffset = 40

	fvLengthOffset   = 32
	fvChecksumOffset = 50
	blockSize        = 8

	// FirmwareVolumeAttributeErasePolarity is EFI_FVB2_ERASE_POLARITY.
	FirmwareVolumeAttributeErasePolarity = 0x800
)

// FirmwareVolumeSignature is the "_FVH" signature.
var FirmwareVolumeSignature = []byte("_FVH")

// Valid FV GUIDs
var (
	FFS1      = guid.MustParse("7a9354d9-0468-444a-81ce-0bf617d890df")
	FFS2      = guid.MustParse("8c8ce578-8a3d-4f1c-9935-896185c32dd3")
	FFS3      = guid.MustParse("5473c07a-3dcb-4dca-bd6f-1e9689e7349a")
	EVSA      = guid.MustParse("fff12b8d-7696-4c8b-a985-2747075b4f50")
	NVAR      = guid.MustParse("cef5b9a3-476d-497f-9fdc-e98143e0422c")
	EVSA2     = guid.MustParse("00504624-8a59-4eeb-bd0f-6b36e96128e0")
	AppleBoot = guid.MustParse("04adeead-61ff-4d31-b6ba-64f8bf901f5a")
	PFH1      = guid.MustParse("16b45da2-7d70-4aea-a58d-760e9ecb841d")
	PFH2      = guid.MustParse("e360bdba-c3ce-46be-8f37-b231e5cb9f35")
)

// FVGUIDs holds common FV type names
var FVGUIDs = map[guid.GUID]string{
	*FFS1:      "FFS1",
	*FFS2:      "FFS2",
	*FFS3:      "FFS3",
	*EVSA:      "NVRAM_EVSA",
	*NVAR:      "NVRAM_NVAR",
	*EVSA2:     "NVRAM_EVSA2",
	*AppleBoot: "APPLE_BOOT",
	*PFH1:      "PFH1",
	*PFH2:      "PFH2",
}

// Block describes number and size of the firmware volume blocks
type Block struct {
	Count uint32
	Size  uint32
}

// FirmwareVolumeFixedHeader contains the fixed fields of a firmware volume
// header
type FirmwareVolumeFixedHeader struct {
	ZeroVector      [16]uint8
	FileSystemGUID  guid.GUID
	Length          uint64
	Signature       uint32
	Attributes      uint32 // UEFI PI spec volume 3.2.1 EFI_FIRMWARE_VOLUME_HEADER
	HeaderLen       uint16
	Checksum        uint16
	ExtHeaderOffset uint16
	Reserved        uint8 `json:"-"`
	Revision        uint8
}

// FirmwareVolumeExtHeader contains the fields of an extended firmware volume
// header
type FirmwareVolumeExtHeader struct {
	FVName        guid.GUID
	ExtHeaderSize uint32
}

// VolumeHeader is a decoded volume header: the fixed part, the block map
// and, when present, the extended header.
type VolumeHeader struct {
	FirmwareVolumeFixedHeader
	// Blocks excludes the zero entry terminating the map.
	Blocks []Block
	FirmwareVolumeExtHeader
	HasExtHeader bool

	// DataOffset is where the first file starts, relative to the volume.
	DataOffset uint64
}

// FindFirmwareVolumeOffset searches data for the next "_FVH" signature at or
// after from+40 and returns the offset of the volume it belongs to, or -1.
func FindFirmwareVolumeOffset(data []byte, from int) int {
	cursor := from + FirmwareVolumeSignatureOffset
	if from < 0 || cursor >= len(data) {
		return -1
	}
	idx := bytes.Index(data[cursor:], FirmwareVolumeSignature)
	if idx < 0 {
		return -1
	}
	return from + idx
}

// ParseVolumeHeader decodes the volume header at the start of data. It does
// not check the declared length against len(data).
func ParseVolumeHeader(data []byte) (*VolumeHeader, error) {
	if len(data) < FirmwareVolumeMinSize {
		return nil, fmt.Errorf("firmware volume header needs %d bytes, got %d", FirmwareVolumeMinSize, len(data))
	}
	var h VolumeHeader
	reader := bytes.NewReader(data)
	if err := binary.Read(reader, binary.LittleEndian, &h.FirmwareVolumeFixedHeader); err != nil {
		return nil, err
	}
	if !bytes.Equal(data[FirmwareVolumeSignatureOffset:FirmwareVolumeSignatureOffset+4], FirmwareVolumeSignature) {
		return nil, errors.New("firmware volume signature not found")
	}
	if h.HeaderLen < FirmwareVolumeMinSize || int(h.HeaderLen) > len(data) {
		return nil, fmt.Errorf("invalid firmware volume header length %#x", h.HeaderLen)
	}

	// The block map runs until a zero entry or the end of the header.
	for off := FirmwareVolumeFixedHeaderSize; off+blockSize <= int(h.HeaderLen); off += blockSize {
		var block Block
		if err := binary.Read(reader, binary.LittleEndian, &block); err != nil {
			return nil, err
		}
		if block.Count == 0 && block.Size == 0 {
			break
		}
		h.Blocks = append(h.Blocks, block)
	}
	if len(h.Blocks) == 0 {
		return nil, errors.New("firmware volume has an empty block map")
	}

	h.DataOffset = uint64(h.HeaderLen)
	if h.ExtHeaderOffset != 0 && int(h.ExtHeaderOffset)+FirmwareVolumeExtHeaderMinSize <= len(data) {
		r := bytes.NewReader(data[h.ExtHeaderOffset:])
		if err := binary.Read(r, binary.LittleEndian, &h.FirmwareVolumeExtHeader); err != nil {
			return nil, fmt.Errorf("unable to parse FV extended header, got: %v", err)
		}
		h.HasExtHeader = true
		if end := uint64(h.ExtHeaderOffset) + uint64(h.ExtHeaderSize); end > h.DataOffset {
			h.DataOffset = end
		}
	}
	h.DataOffset = Align8(h.DataOffset)
	return &h, nil
}

// ErasePolarity returns the erased byte value declared by the attributes.
func (h *VolumeHeader) ErasePolarity() ErasePolarity {
	if h.Attributes&FirmwareVolumeAttributeErasePolarity != 0 {
		return ErasePolarityOne
	}
	return ErasePolarityZero
}

// FFSRevision returns 2 or 3 for FFS volumes and 0 for anything else.
func (h *VolumeHeader) FFSRevision() uint8 {
	switch h.FileSystemGUID {
	case *FFS2:
		return 2
	case *FFS3:
		return 3
	}
	return 0
}

// BlockMapLength is the volume size described by the block map.
func (h *VolumeHeader) BlockMapLength() uint64 {
	var total uint64
	for _, b := range h.Blocks {
		total += uint64(b.Count) * uint64(b.Size)
	}
	return total
}

// TypeName names the file system of the volume.
func (h *VolumeHeader) TypeName() string {
	if s, ok := FVGUIDs[h.FileSystemGUID]; ok {
		return s
	}
	return h.FileSystemGUID.String()
}

// Write serializes the fixed header and the block map (with its
// terminator) into the start of b, leaving the rest of b untouched. The
// number of blocks must fit the header length b was parsed with.
func (h *VolumeHeader) Write(b []byte) (int, error) {
	mapLen := (len(h.Blocks) + 1) * blockSize
	if FirmwareVolumeFixedHeaderSize+mapLen > int(h.HeaderLen) || int(h.HeaderLen) > len(b) {
		return 0, fmt.Errorf("block map of %d entries does not fit a %#x byte header", len(h.Blocks), h.HeaderLen)
	}
	w := bytesextra.NewReadWriteSeeker(b)
	if err := binary.Write(w, binary.LittleEndian, &h.FirmwareVolumeFixedHeader); err != nil {
		return 0, err
	}
	blocks := append(append([]Block(nil), h.Blocks...), Block{})
	if err := binary.Write(w, binary.LittleEndian, blocks); err != nil {
		return 0, err
	}
	return FirmwareVolumeFixedHeaderSize + mapLen, nil
}

// UpdateVolumeChecksum recomputes the header checksum of a serialized
// volume header in place.
func UpdateVolumeChecksum(hdr []byte) error {
	if len(hdr) < FirmwareVolumeMinSize {
		return fmt.Errorf("volume header too short: %d bytes", len(hdr))
	}
	headerLen := int(binary.LittleEndian.Uint16(hdr[48:]))
	if headerLen > len(hdr) {
		return fmt.Errorf("volume header length %#x exceeds the buffer", headerLen)
	}
	binary.LittleEndian.PutUint16(hdr[fvChecksumOffset:], 0)
	sum, err := Checksum16(hdr[:headerLen])
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(hdr[fvChecksumOffset:], 0-sum)
	return nil
}

// VolumeChecksumValid reports whether the 16 bit sum of the header is zero.
func VolumeChecksumValid(hdr []byte) bool {
	if len(hdr) < FirmwareVolumeMinSize {
		return false
	}
	headerLen := int(binary.LittleEndian.Uint16(hdr[48:]))
	if headerLen > len(hdr) {
		return false
	}
	sum, err := Checksum16(hdr[:headerLen])
	return err == nil && sum == 0
}

// VolumeLength reads the FvLength field of a serialized header.
func VolumeLength(hdr []byte) uint64 {
	return binary.LittleEndian.Uint64(hdr[fvLengthOffset:])
}
