// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bytes

//go:nosplit
func isFilledSimple(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}

// IsErased returns true if b consists of the erase byte only. Erased flash
// is large (whole free space tails of volumes), so this goes through the
// word-at-a-time IsFilled.
func IsErased(b []byte, polarity byte) bool {
	return IsFilled(b, polarity)
}
