// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !amd64
// +build !amd64

package bytes

// IsFilled returns true if every byte of b equals v.
//
//go:nosplit
func IsFilled(b []byte, v byte) bool {
	return isFilledSimple(b, v)
}
