// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSectionHeader(t *testing.T) {
	var tests = []struct {
		name    string
		size    uint64
		ext     bool
		wantLen int
	}{
		{"small", 0x20, false, SectionHeaderLength},
		{"largestSmall", 0xFFFFFE, false, SectionHeaderLength},
		{"extended", 0x1000008, true, SectionExtHeaderLength},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.ext, NeedsExtendedSize(test.size))
			buf := make([]byte, 8)
			n, err := WriteSectionHeader(buf, SectionTypeRaw, test.size, test.ext)
			require.NoError(t, err)
			require.Equal(t, test.wantLen, n)
			require.Equal(t, SectionTypeRaw, SectionType(buf[3]))

			size, hdrLen, err := SectionSize(buf)
			require.NoError(t, err)
			require.Equal(t, test.size, size)
			require.Equal(t, test.wantLen, hdrLen)
		})
	}
}

func TestSectionSizeShort(t *testing.T) {
	_, _, err := SectionSize([]byte{1, 2})
	require.Error(t, err)
	_, _, err = SectionSize([]byte{0xFF, 0xFF, 0xFF, 0x19, 0})
	require.Error(t, err)
}

func TestCompressionSectionHeader(t *testing.T) {
	buf := make([]byte, CompressionSectionHeaderLength)
	in := CompressionSectionHeader{UncompressedLength: 0x12345, CompressionType: CompressionTypeCustomized}
	require.NoError(t, in.Write(buf))
	out, err := ReadCompressionHeader(buf)
	require.NoError(t, err)
	require.Equal(t, in, *out)

	_, err = ReadCompressionHeader(buf[:3])
	require.Error(t, err)
}

func TestGUIDDefinedSectionHeader(t *testing.T) {
	buf := make([]byte, GUIDDefinedSectionHeaderLength)
	in := GUIDDefinedSectionHeader{
		GUID:       CRC32SectionGUID,
		DataOffset: 0x18,
		Attributes: GUIDEDSectionAuthStatusValid,
	}
	require.NoError(t, in.Write(buf))
	out, err := ReadGUIDDefinedHeader(buf)
	require.NoError(t, err)
	require.Equal(t, in, *out)
}

func TestSectionTypeString(t *testing.T) {
	require.Equal(t, "EFI_SECTION_PE32", SectionTypePE32.String())
	require.Equal(t, "UNKNOWN_SECTION (0x42)", SectionType(0x42).String())
	require.True(t, SectionTypeGUIDDefined.IsEncapsulation())
	require.False(t, SectionTypeRaw.IsEncapsulation())
	require.False(t, SectionType(0x42).Known())
}

func TestUCS2(t *testing.T) {
	for _, s := range []string{"", "Shell", "DxeCore"} {
		enc, err := EncodeUCS2(s)
		require.NoError(t, err)
		require.Len(t, enc, 2*len(s)+2)
		dec, err := DecodeUCS2(append(enc, 0x41, 0x00))
		require.NoError(t, err)
		require.Equal(t, s, dec)
	}
}
