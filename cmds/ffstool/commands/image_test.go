// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/ffsengine/internal/unittest"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

func TestParsePaths(t *testing.T) {
	paths, err := ParsePaths([]string{"/0/1", "/0/1/0", "/0/0", "/1"})
	require.NoError(t, err)
	assert.Equal(t, []layout.Path{{1}, {0, 1, 0}, {0, 1}, {0, 0}}, paths)

	_, err = ParsePaths(nil)
	require.ErrorAs(t, err, &ErrArgs{})
	_, err = ParsePaths([]string{"/a"})
	require.ErrorIs(t, err, layout.ErrPathInvalid)
}

func TestOpenAndSave(t *testing.T) {
	img := unittest.Volume(t, 0x10000, uefi.ErasePolarityOne,
		unittest.File(t, unittest.RawFileGUID, uefi.FVFileTypeRaw, uefi.ErasePolarityOne, make([]byte, 0x40)))
	dir := t.TempDir()
	in := filepath.Join(dir, "in.rom")
	require.NoError(t, os.WriteFile(in, img, 0o644))

	image := Image{ImagePath: in}
	e, err := image.Open()
	require.NoError(t, err)
	n, err := e.Get(layout.Path{0, 0})
	require.NoError(t, err)
	assert.Equal(t, layout.KindFile, n.Kind)

	out := filepath.Join(dir, "out.rom")
	require.NoError(t, Output{OutputPath: out}.Save(e, image))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, img, b)

	_, err = Image{ImagePath: filepath.Join(dir, "missing")}.Open()
	require.Error(t, err)
}

func TestImageOptions(t *testing.T) {
	opts := Image{MaxDepth: 4, MaxNodes: 100, XZPath: "xz", Verbose: true}.Options()
	assert.Equal(t, 4, opts.Parser.MaxDepth)
	assert.Equal(t, 100, opts.Parser.MaxNodes)
	assert.Equal(t, "xz", opts.Compression.XZPath)
	assert.NotNil(t, opts.Logger)
	assert.Nil(t, Image{}.Options().Logger)
}
