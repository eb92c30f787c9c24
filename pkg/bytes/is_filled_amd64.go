// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64
// +build amd64

package bytes

import (
	"unsafe"
)

// IsFilled returns true if every byte of b equals v.
func IsFilled(b []byte, v byte) bool {
	length := len(b)
	if length == 0 {
		return true
	}
	var data = unsafe.Pointer(&b[0])

	if uintptr(data)&0x07 != 0 {
		// the data is not aligned, fallback to a simple way
		return isFilledSimple(b, v)
	}

	word := uint64(v) * 0x0101010101010101
	dataEnd := uintptr(data) + uintptr(length)
	dataWordsEnd := dataEnd & ^uintptr(0x07)
	for ; uintptr(data) < dataWordsEnd; data = unsafe.Pointer(uintptr(data) + 8) {
		if *(*uint64)(data) != word {
			return false
		}
	}
	for ; uintptr(data) < dataEnd; data = unsafe.Pointer(uintptr(data) + 1) {
		if *(*uint8)(data) != v {
			return false
		}
	}
	return true
}
