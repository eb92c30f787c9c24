// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// makeVolume builds an empty FFS2 volume of size bytes with a single block
// map entry.
func makeVolume(t *testing.T, size uint32, polarity ErasePolarity) []byte {
	t.Helper()
	buf := Erased(uint64(size), polarity)
	h := VolumeHeader{
		FirmwareVolumeFixedHeader: FirmwareVolumeFixedHeader{
			FileSystemGUID: *FFS2,
			Length:         uint64(size),
			Signature:      0x4856465F,
			HeaderLen:      FirmwareVolumeMinSize + blockSize,
			Revision:       2,
		},
		Blocks: []Block{{Count: size / 0x1000, Size: 0x1000}},
	}
	if polarity == ErasePolarityOne {
		h.Attributes |= FirmwareVolumeAttributeErasePolarity
	}
	n, err := h.Write(buf)
	require.NoError(t, err)
	require.Equal(t, FirmwareVolumeFixedHeaderSize+2*blockSize, n)
	require.NoError(t, UpdateVolumeChecksum(buf))
	return buf
}

func TestParseVolumeHeader(t *testing.T) {
	for _, polarity := range []ErasePolarity{ErasePolarityOne, ErasePolarityZero} {
		t.Run(polarity.String(), func(t *testing.T) {
			buf := makeVolume(t, 0x10000, polarity)
			require.True(t, VolumeChecksumValid(buf))
			require.Equal(t, uint64(0x10000), VolumeLength(buf))

			h, err := ParseVolumeHeader(buf)
			require.NoError(t, err)
			require.Equal(t, polarity, h.ErasePolarity())
			require.Equal(t, uint8(2), h.FFSRevision())
			require.Equal(t, "FFS2", h.TypeName())
			require.Equal(t, uint64(0x10000), h.BlockMapLength())
			require.Equal(t, uint64(0x48), h.DataOffset)
			require.False(t, h.HasExtHeader)
		})
	}
}

func TestVolumeChecksumDetectsCorruption(t *testing.T) {
	buf := makeVolume(t, 0x2000, ErasePolarityOne)
	buf[33]++
	require.False(t, VolumeChecksumValid(buf))
	require.NoError(t, UpdateVolumeChecksum(buf))
	require.True(t, VolumeChecksumValid(buf))
}

func TestParseVolumeHeaderErrors(t *testing.T) {
	buf := makeVolume(t, 0x1000, ErasePolarityOne)

	_, err := ParseVolumeHeader(buf[:40])
	require.Error(t, err)

	bad := append([]byte(nil), buf...)
	bad[FirmwareVolumeSignatureOffset] = 'X'
	_, err = ParseVolumeHeader(bad)
	require.Error(t, err)

	bad = append([]byte(nil), buf...)
	for i := FirmwareVolumeFixedHeaderSize; i < FirmwareVolumeMinSize; i++ {
		bad[i] = 0
	}
	_, err = ParseVolumeHeader(bad)
	require.Error(t, err)
}

func TestFindFirmwareVolumeOffset(t *testing.T) {
	vol := makeVolume(t, 0x1000, ErasePolarityOne)
	image := append(Erased(0x300, ErasePolarityOne), vol...)

	require.Equal(t, 0x300, FindFirmwareVolumeOffset(image, 0))
	require.Equal(t, 0x300, FindFirmwareVolumeOffset(image, 0x300))
	require.Equal(t, -1, FindFirmwareVolumeOffset(image, 0x301))
	require.Equal(t, -1, FindFirmwareVolumeOffset(image, len(image)))
}

func TestVolumeHeaderWriteTooManyBlocks(t *testing.T) {
	buf := makeVolume(t, 0x2000, ErasePolarityOne)
	h, err := ParseVolumeHeader(buf)
	require.NoError(t, err)
	h.Blocks = append(h.Blocks, Block{Count: 1, Size: 0x1000})
	_, err = h.Write(buf)
	require.Error(t, err)
}
