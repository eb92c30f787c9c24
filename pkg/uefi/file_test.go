// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"testing"

	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/stretchr/testify/require"
)

func TestClassifyState(t *testing.T) {
	var tests = []struct {
		name  string
		state uint8
		want  FileStatus
	}{
		{"valid", FileStateValid, FileStatusValid},
		{"markedForUpdate", FileStateValid | FileStateMarkedForUpdate, FileStatusValid},
		{"deleted", FileStateValid | FileStateDeleted, FileStatusDeleted},
		{"headerInvalid", FileStateValid | FileStateHeaderInvalid, FileStatusInvalid},
		{"underConstruction", FileStateHeaderConstruction, FileStatusInProgress},
		{"headerOnly", FileStateHeaderConstruction | FileStateHeaderValid, FileStatusInProgress},
		{"nothing", 0, FileStatusInvalid},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			for _, p := range []ErasePolarity{ErasePolarityZero, ErasePolarityOne} {
				raw := EncodeState(test.state, p)
				require.Equal(t, test.want, ClassifyState(raw, p), "polarity %v", p)
			}
		})
	}
}

func TestFileAttributeAlignment(t *testing.T) {
	require.Equal(t, uint64(1), FileAttribute(0).Alignment())
	require.Equal(t, uint64(16), FileAttribute(0x08).Alignment())
	require.Equal(t, uint64(4096), FileAttribute(0x28).Alignment())
	require.Equal(t, uint64(64*1024), (FileAttributeDataAlignment | FileAttributeChecksum).Alignment())
}

func TestFileHeaderRoundTrip(t *testing.T) {
	g := *guid.MustParse("DEADBEEF-0001-0002-0304-05060708090A")
	var tests = []struct {
		name    string
		body    uint64
		large   bool
		attrs   FileAttribute
		wantLen int
	}{
		{"small", 0x30, false, FileAttributeChecksum, FileHeaderMinLength},
		{"smallNoChecksum", 0x30, false, 0, FileHeaderMinLength},
		{"large", 0x1000000, true, FileAttributeChecksum, FileHeaderExtMinLength},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.large, NeedsLargeHeader(test.body))
			h := &FileHeaderExtended{FileHeader: FileHeader{
				GUID:       g,
				Type:       FVFileTypeDriver,
				Attributes: test.attrs,
				State:      EncodeState(FileStateValid, ErasePolarityOne),
			}}
			if test.large {
				h.Attributes |= FileAttributeLargeFile
			}
			h.SetSize(uint64(h.HeaderLen()) + test.body)
			require.Equal(t, test.wantLen, h.HeaderLen())

			file := make([]byte, h.ExtendedSize)
			for i := h.HeaderLen(); i < len(file); i++ {
				file[i] = byte(i)
			}
			n, err := h.Write(file)
			require.NoError(t, err)
			require.Equal(t, test.wantLen, n)
			UpdateFileChecksums(file, n)

			headerOK, dataOK := FileChecksumsValid(file, n)
			require.True(t, headerOK)
			require.True(t, dataOK)
			if !test.attrs.HasChecksum() {
				require.Equal(t, EmptyBodyChecksum, file[fileChecksumFileOffset])
			}

			parsed, err := ParseFileHeader(file)
			require.NoError(t, err)
			require.Equal(t, g, parsed.GUID)
			require.Equal(t, h.ExtendedSize, parsed.ExtendedSize)
			require.Equal(t, FVFileTypeDriver, parsed.Type)

			file[len(file)-1]++
			_, dataOK = FileChecksumsValid(file, n)
			require.Equal(t, !test.attrs.HasChecksum(), dataOK)
		})
	}
}

func TestFileHeaderChecksumIgnoresState(t *testing.T) {
	h := &FileHeaderExtended{FileHeader: FileHeader{Type: FVFileTypeRaw}}
	h.SetSize(FileHeaderMinLength)
	file := make([]byte, FileHeaderMinLength)
	_, err := h.Write(file)
	require.NoError(t, err)
	UpdateFileChecksums(file, FileHeaderMinLength)
	file[fileStateOffset] = 0x55
	headerOK, _ := FileChecksumsValid(file, FileHeaderMinLength)
	require.True(t, headerOK)
}

func TestParseFileHeaderShort(t *testing.T) {
	_, err := ParseFileHeader(make([]byte, 10))
	require.Error(t, err)

	buf := make([]byte, FileHeaderMinLength)
	buf[19] = byte(FileAttributeLargeFile)
	_, err = ParseFileHeader(buf)
	require.Error(t, err)
}

func TestFVFileType(t *testing.T) {
	require.True(t, FVFileTypeDriver.HasSections())
	require.False(t, FVFileTypeRaw.HasSections())
	require.False(t, FVFileTypePad.HasSections())
	require.Equal(t, "EFI_FV_FILETYPE_FFS_PAD", FVFileTypePad.String())
}
