// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bytes

import (
	"fmt"
	"testing"
)

func TestIsFilled(t *testing.T) {
	for _, v := range []byte{0x00, 0xFF} {
		for _, size := range []int{0, 1, 7, 8, 9, 64, 65} {
			// Offset 1 exercises the unaligned path.
			for _, off := range []int{0, 1} {
				buf := make([]byte, size+off)
				for i := range buf {
					buf[i] = v
				}
				b := buf[off:]
				if !IsFilled(b, v) {
					t.Errorf("IsFilled(%d bytes of %#x, off %d) = false", size, v, off)
				}
				if size == 0 {
					continue
				}
				b[size-1] ^= 0x01
				if IsFilled(b, v) {
					t.Errorf("IsFilled with a flipped last byte (size %d, off %d) = true", size, off)
				}
				if IsErased(b, v) != isFilledSimple(b, v) {
					t.Errorf("IsErased disagrees with the simple loop")
				}
			}
		}
	}
}

func BenchmarkIsFilled(b *testing.B) {
	for _, size := range []uint64{0, 1, 256, 65536, 1 << 20} {
		d := make([]byte, size)
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			b.Run("default", func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					IsFilled(d, 0)
				}
			})
			b.Run("simple", func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					isFilledSimple(d, 0)
				}
			})
		})
	}
}
