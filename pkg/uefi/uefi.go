// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uefi describes the on-flash structures of Intel flash images and
// UEFI firmware volumes, files and sections, together with the checksum and
// size field helpers shared by the parser and the reconstruction engine.
//
// Nothing in here keeps state between calls: the erase polarity and the FFS
// revision travel with the volume that defines them.
package uefi

import (
	"encoding/binary"
	"fmt"

	fbytes "github.com/linuxboot/ffsengine/pkg/bytes"
)

// ErasePolarity is the value of an erased flash byte.
type ErasePolarity byte

// The two erase polarities a volume can declare.
const (
	ErasePolarityZero ErasePolarity = 0x00
	ErasePolarityOne  ErasePolarity = 0xFF
)

// Byte returns the erased byte value.
func (p ErasePolarity) Byte() byte {
	return byte(p)
}

func (p ErasePolarity) String() string {
	switch p {
	case ErasePolarityOne:
		return "1-erased"
	case ErasePolarityZero:
		return "0-erased"
	}
	return fmt.Sprintf("invalid(0x%02X)", byte(p))
}

// Checksum8 does a 8 bit checksum of the slice passed in.
func Checksum8(buf []byte) uint8 {
	var sum uint8
	for _, val := range buf {
		sum += val
	}
	return sum
}

// Checksum16 does a 16 bit checksum of the byte slice passed in.
func Checksum16(buf []byte) (uint16, error) {
	if len(buf)%2 != 0 {
		return 0, fmt.Errorf("byte slice does not have even length, not able to do 16 bit checksum. Length was %v",
			len(buf))
	}
	var sum uint16
	for i := 0; i < len(buf); i += 2 {
		sum += binary.LittleEndian.Uint16(buf[i:])
	}
	return sum, nil
}

// Read3Size reads a 3-byte size and returns it as a uint64
func Read3Size(size [3]uint8) uint64 {
	return uint64(size[2])<<16 |
		uint64(size[1])<<8 | uint64(size[0])
}

// Write3Size writes a size into a 3-byte array. Sizes that do not fit are
// written as 0xFFFFFF, the marker for an extended size field.
func Write3Size(size uint64) [3]uint8 {
	if size >= 0xFFFFFF {
		return [3]uint8{0xFF, 0xFF, 0xFF}
	}
	return [3]uint8{uint8(size), uint8(size >> 8), uint8(size >> 16)}
}

// Align aligns an address
func Align(val uint64, base uint64) uint64 {
	return (val + base - 1) & ^(base - 1)
}

// Align4 aligns an address to 4 bytes
func Align4(val uint64) uint64 {
	return Align(val, 4)
}

// Align8 aligns an address to 8 bytes
func Align8(val uint64) uint64 {
	return Align(val, 8)
}

// Erase sets every byte of buf to the erase polarity.
func Erase(buf []byte, polarity ErasePolarity) {
	for j := range buf {
		buf[j] = byte(polarity)
	}
}

// Erased returns a new buffer of size bytes in the erased state.
func Erased(size uint64, polarity ErasePolarity) []byte {
	buf := make([]byte, size)
	if polarity != ErasePolarityZero {
		Erase(buf, polarity)
	}
	return buf
}

// IsErased checks if the buffer only holds erased bytes.
func IsErased(buf []byte, polarity ErasePolarity) bool {
	return fbytes.IsErased(buf, byte(polarity))
}
