// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parser_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linuxboot/ffsengine/internal/unittest"
	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/parser"
	"github.com/linuxboot/ffsengine/pkg/reconstruct"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

func seeds(f testing.TB) [][]byte {
	raw := unittest.Section(f, uefi.SectionTypeRaw, []byte("seed"))
	ui := unittest.UISection(f, "Seed")
	files := [][]byte{
		unittest.File(f, unittest.RawFileGUID, uefi.FVFileTypeRaw, pol, []byte{1, 2, 3}),
		unittest.File(f, unittest.DXEFileGUID, uefi.FVFileTypeDriver, pol,
			unittest.CompressionSection(f, compression.AlgorithmLZMA, uefi.CompressionTypeCustomized, raw, ui)),
		unittest.File(f, unittest.AppFileGUID, uefi.FVFileTypeApplication, pol,
			unittest.Stream(unittest.CRC32Section(f, raw), unittest.CompressedGUIDSection(f, compression.AlgorithmTiano, ui))),
	}
	vol := unittest.Volume(f, 0x2000, pol, files...)
	oversized := unittest.Volume(f, 0x1000, pol, files[0], oversizedFile(f))
	return [][]byte{
		oversized,
		oversizedVolume(f),
		nil,
		raw,
		files[1],
		vol,
		unittest.IntelImage(0x4000, map[uefi.FlashRegionType]uefi.FlashRegion{
			uefi.RegionTypeME:   {Base: 0x1, Limit: 0x1},
			uefi.RegionTypeBIOS: {Base: 0x2, Limit: 0x3},
		}, map[uefi.FlashRegionType][]byte{uefi.RegionTypeBIOS: vol[:0x2000]}),
	}
}

// oversizedFile returns a large file whose 8 byte size wraps around when
// added to any offset.
func oversizedFile(t testing.TB) []byte {
	f := unittest.File(t, unittest.DXEFileGUID, uefi.FVFileTypeDriver, pol, make([]byte, 0x10))
	f[0x13] = 0xFF
	binary.LittleEndian.PutUint64(f[uefi.FileHeaderMinLength:], ^uint64(0)-0x10)
	return f
}

// oversizedVolume returns a volume declaring a length near 2^64, placed
// behind some padding.
func oversizedVolume(t testing.TB) []byte {
	vol := unittest.Volume(t, 0x1000, pol)
	binary.LittleEndian.PutUint64(vol[0x20:], ^uint64(0)-0x8)
	return append(uefi.Erased(0x100, pol), vol...)
}

// FuzzParse checks that the parser accepts any input and that the
// resulting tree serializes back to the very same bytes.
func FuzzParse(f *testing.F) {
	for _, s := range seeds(f) {
		f.Add(s)
	}
	f.Fuzz(checkReproduced)
}

func checkReproduced(t *testing.T, data []byte) {
	m, _ := parser.Parse(data, parser.Options{MaxNodes: 4096})
	out, err := reconstruct.ReconstructImage(m.Root(), reconstruct.Options{})
	if err != nil {
		t.Fatalf("reconstructing a parsed image: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("reconstructed image differs from the %d byte input", len(data))
	}
}

// TestMutatedSeeds runs the fuzz property over truncated and bit flipped
// seeds, so it is exercised without -fuzz.
func TestMutatedSeeds(t *testing.T) {
	for _, s := range seeds(t) {
		for cut := 0; cut < len(s); cut += 1 + len(s)/64 {
			checkReproduced(t, s[:cut])
		}
		for i := 0; i < len(s); i += 1 + len(s)/256 {
			m := append([]byte(nil), s...)
			m[i] ^= 0x5A
			checkReproduced(t, m)
		}
	}
}

func TestParseWrappingSizes(t *testing.T) {
	for _, tc := range []struct {
		name       string
		data       []byte
		truncation bool
	}{
		{"file", unittest.Volume(t, 0x1000, pol, unittest.File(t, unittest.RawFileGUID, uefi.FVFileTypeRaw, pol, []byte{1}), oversizedFile(t)), true},
		{"volume", oversizedVolume(t), true},
		{"image", unittest.IntelImage(0x4000, map[uefi.FlashRegionType]uefi.FlashRegion{
			uefi.RegionTypeBIOS: {Base: 0x2, Limit: 0x3},
		}, map[uefi.FlashRegionType][]byte{
			uefi.RegionTypeBIOS: unittest.Volume(t, 0x2000, pol, oversizedFile(t)),
		}), true},
		{"bare", oversizedFile(t), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var diag *layout.Diagnostics
			require.NotPanics(t, func() {
				_, diag = parser.Parse(tc.data, parser.Options{})
			})
			if tc.truncation {
				require.NotEmpty(t, diag.Matching(parser.ErrStructuralTruncation))
			}
			checkReproduced(t, tc.data)
		})
	}
}
