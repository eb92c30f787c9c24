// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"fmt"

	fbytes "github.com/linuxboot/ffsengine/pkg/bytes"
)

const (
	// RegionBlockSize assumes the region struct values correspond to blocks of 0x1000 in size
	RegionBlockSize = 0x1000
)

// FlashRegionType is the index of a region in the FLREG table.
type FlashRegionType int

// IFD Region types, in FLREG order starting at FLREG1.
const (
	RegionTypeBIOS FlashRegionType = iota
	RegionTypeME
	RegionTypeGBE
	RegionTypePD
	RegionTypeDevExp1
	RegionTypeBIOS2
	RegionTypeMicrocode
	RegionTypeEC
	RegionTypeDevExp2
	RegionTypeIE
	RegionTypeTGBE1
	RegionTypeTGBE2
	RegionTypeReserved1
	RegionTypeReserved2
	RegionTypePTT
)

var flashRegionTypeNames = map[FlashRegionType]string{
	RegionTypeBIOS:      "BIOS",
	RegionTypeME:        "ME",
	RegionTypeGBE:       "GbE",
	RegionTypePD:        "PDR",
	RegionTypeDevExp1:   "DevExp1",
	RegionTypeBIOS2:     "BIOS2",
	RegionTypeMicrocode: "Microcode",
	RegionTypeEC:        "EC",
	RegionTypeDevExp2:   "DevExp2",
	RegionTypeIE:        "IE",
	RegionTypeTGBE1:     "10GbE1",
	RegionTypeTGBE2:     "10GbE2",
	RegionTypeReserved1: "Reserved1",
	RegionTypeReserved2: "Reserved2",
	RegionTypePTT:       "PTT",
}

func (rt FlashRegionType) String() string {
	if s, ok := flashRegionTypeNames[rt]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Region (%d)", int(rt))
}

// FlashRegion holds the base and limit of a region, in 4KiB blocks.
type FlashRegion struct {
	Base  uint16 // Index of first 4KiB block
	Limit uint16 // Index of last block
}

// Valid checks to see if a region is valid
func (r FlashRegion) Valid() bool {
	// Some boards mark unused regions with 0xFFFF in both fields instead of
	// a zero limit.
	return r.Limit > 0 && r.Limit >= r.Base && r.Limit != 0xFFFF && r.Base != 0xFFFF
}

func (r FlashRegion) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.BaseOffset(), r.EndOffset())
}

// BaseOffset calculates the offset into the flash image where the Region begins
func (r FlashRegion) BaseOffset() uint32 {
	return uint32(r.Base) * RegionBlockSize
}

// EndOffset calculates the offset into the flash image where the Region ends
func (r FlashRegion) EndOffset() uint32 {
	return (uint32(r.Limit) + 1) * RegionBlockSize
}

// Range returns the bytes the region covers.
func (r FlashRegion) Range() fbytes.Range {
	return fbytes.Range{Offset: uint64(r.BaseOffset()), Length: uint64(r.EndOffset() - r.BaseOffset())}
}
