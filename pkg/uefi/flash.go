// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// FlashSignature is the descriptor valid signature (FLVALSIG).
var FlashSignature = []byte{0x5a, 0xa5, 0xf0, 0x0f}

const (
	// FlashDescriptorLength represents the size of the descriptor region.
	FlashDescriptorLength = 0x1000
	// FlashSignatureLength represents the size of the flash signature
	FlashSignatureLength = 4
	// FlashDescriptorMapSize is the size of FLMAP0..FLMAP3.
	FlashDescriptorMapSize = 16
	// FlashRegionSectionSize is the size of the FLREG table we read.
	FlashRegionSectionSize = 64

	flashDescriptorMapMaxBase = 0xe0
	pchSignatureOffset        = 16
)

// ErrNoFlashSignature is returned by FindSignature when the image carries no
// Intel flash descriptor.
var ErrNoFlashSignature = errors.New("flash descriptor signature not found")

// FindSignature searches for an Intel flash signature and returns the offset
// of the descriptor map that follows it. Current chipsets keep the signature
// at offset 16, ICH8-10 at offset 0.
func FindSignature(buf []byte) (int, error) {
	if len(buf) >= pchSignatureOffset+FlashSignatureLength &&
		bytes.Equal(buf[pchSignatureOffset:pchSignatureOffset+FlashSignatureLength], FlashSignature) {
		return pchSignatureOffset + FlashSignatureLength, nil
	}
	if len(buf) >= FlashSignatureLength && bytes.Equal(buf[:FlashSignatureLength], FlashSignature) {
		return FlashSignatureLength, nil
	}
	return -1, ErrNoFlashSignature
}

// FlashDescriptorMap is FLMAP0 to FLMAP3. Bases are in units of 16 bytes.
type FlashDescriptorMap struct {
	// FLMAP0
	ComponentBase      uint8
	NumberOfFlashChips uint8
	RegionBase         uint8
	NumberOfRegions    uint8
	// FLMAP1
	MasterBase        uint8
	NumberOfMasters   uint8
	PchStrapsBase     uint8
	NumberOfPchStraps uint8
	// FLMAP2
	ProcStrapsBase          uint8
	NumberOfProcStraps      uint8
	IccTableBase            uint8
	NumberOfIccTableEntries uint8
	// FLMAP3
	DmiTableBase            uint8
	NumberOfDmiTableEntries uint8
	Reserved0               uint8
	Reserved1               uint8
}

// FlashRegionSection is the FLREG table. The first word belongs to the
// descriptor region itself, FlashRegions[i] is FLREG(i+1).
type FlashRegionSection struct {
	_                   uint16
	FlashBlockEraseSize uint16

	FlashRegions [15]FlashRegion
}

// FlashDescriptor is a decoded Intel flash descriptor.
type FlashDescriptor struct {
	DescriptorMapStart int
	RegionStart        int
	Map                FlashDescriptorMap
	Region             FlashRegionSection
}

// ParseFlashDescriptor decodes the descriptor at the start of an image.
func ParseFlashDescriptor(buf []byte) (*FlashDescriptor, error) {
	if len(buf) < FlashDescriptorLength {
		return nil, fmt.Errorf("flash descriptor needs %#x bytes, image has %#x", FlashDescriptorLength, len(buf))
	}
	mapStart, err := FindSignature(buf)
	if err != nil {
		return nil, err
	}
	fd := &FlashDescriptor{DescriptorMapStart: mapStart}
	r := bytes.NewReader(buf[mapStart : mapStart+FlashDescriptorMapSize])
	if err := binary.Read(r, binary.LittleEndian, &fd.Map); err != nil {
		return nil, err
	}
	if fd.Map.RegionBase > flashDescriptorMapMaxBase {
		return nil, fmt.Errorf("region base %#x is out of the descriptor map range (max %#x)",
			fd.Map.RegionBase, flashDescriptorMapMaxBase)
	}
	fd.RegionStart = int(fd.Map.RegionBase) * 0x10
	r = bytes.NewReader(buf[fd.RegionStart : fd.RegionStart+FlashRegionSectionSize])
	if err := binary.Read(r, binary.LittleEndian, &fd.Region); err != nil {
		return nil, err
	}
	return fd, nil
}

// DeclaredRegions lists the valid regions in descriptor order.
func (fd *FlashDescriptor) DeclaredRegions() []DeclaredRegion {
	var regions []DeclaredRegion
	for i, r := range fd.Region.FlashRegions {
		if !r.Valid() {
			continue
		}
		regions = append(regions, DeclaredRegion{Type: FlashRegionType(i), FlashRegion: r})
	}
	return regions
}

// DeclaredRegion is one valid FLREG entry.
type DeclaredRegion struct {
	Type FlashRegionType
	FlashRegion
}

func (r DeclaredRegion) String() string {
	return fmt.Sprintf("%v region %v", r.Type, r.FlashRegion.String())
}
