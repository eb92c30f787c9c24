// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/ffsengine/internal/unittest"
	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

const pol = uefi.ErasePolarityOne

func setup(t *testing.T) string {
	t.Helper()
	img := unittest.Volume(t, 0x10000, pol,
		unittest.File(t, unittest.RawFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 0x40)),
		unittest.File(t, unittest.DXEFileGUID, uefi.FVFileTypeDriver, pol,
			unittest.CompressionSection(t, compression.AlgorithmLZMA, uefi.CompressionTypeCustomized,
				unittest.Section(t, uefi.SectionTypeRaw, []byte("payload")),
				unittest.UISection(t, "Driver"))),
	)
	dir := t.TempDir()
	p := filepath.Join(dir, "image.rom")
	require.NoError(t, os.WriteFile(p, img, 0o644))

	var buf bytes.Buffer
	savedOut, savedSess := out, sess
	out = &buf
	t.Cleanup(func() { out, sess = savedOut, savedSess })
	return p
}

func TestWords(t *testing.T) {
	image := setup(t)
	dir := filepath.Dir(image)
	f := newForth()

	f.Push(image)
	open(f)
	require.Equal(t, 2, f.Pop())

	f.Push("Driver")
	ix(f)
	require.Equal(t, []string{"/0/1"}, f.Pop())

	f.Push("/0/1/0")
	f.Push("None")
	compress(f)
	assert.Equal(t, "None", f.Pop())
	assert.Equal(t, "/0/1/0", f.Pop())

	body := filepath.Join(dir, "body.bin")
	f.Push("/0/1/0/0")
	f.Push(body)
	extract(f)
	f.Pop()
	b, err := os.ReadFile(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), b)

	f.Push([]string{"/0/0", "/0/1"})
	rm(f)
	assert.Equal(t, "removed 2", f.Pop())

	saved := filepath.Join(dir, "saved.rom")
	f.Push(saved)
	save(f)
	f.Pop()
	b, err = os.ReadFile(saved)
	require.NoError(t, err)
	e := engine.Open(b, engine.Options{})
	for _, p := range []layout.Path{{0, 0}, {0, 1}} {
		n, err := e.Get(p)
		require.NoError(t, err)
		assert.Equal(t, layout.KindPadFile, n.Kind)
	}

	diag(f)
	records, ok := f.Pop().([]string)
	require.True(t, ok)
	for _, r := range records {
		assert.NotContains(t, r, "error")
	}
	require.True(t, f.Empty())
}

func TestRun(t *testing.T) {
	image := setup(t)
	f := newForth()
	f.Push(image)
	open(f)
	f.Reset()

	f.Push("comment")
	f.Push("hello")
	run(f)
	assert.Equal(t, "Run [comment hello]", f.Pop())
	assert.True(t, f.Empty())
}

func TestWordErrors(t *testing.T) {
	setup(t)
	sess = nil
	f := newForth()
	assert.Panics(t, func() { tree(f) })

	f.Push(filepath.Join(t.TempDir(), "missing"))
	assert.Panics(t, func() { open(f) })

	image := setup(t)
	f.Push(image)
	open(f)
	f.Reset()
	f.Push("/0/9")
	assert.Panics(t, func() { rm(f) })
	f.Push("/0/0")
	f.Push("zstd")
	assert.Panics(t, func() { compress(f) })
}
