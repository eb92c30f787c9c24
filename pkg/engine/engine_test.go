// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/ffsengine/internal/unittest"
	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/parser"
	"github.com/linuxboot/ffsengine/pkg/reconstruct"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

const pol = uefi.ErasePolarityOne

var (
	peSection = func(t *testing.T) []byte {
		return unittest.Section(t, uefi.SectionTypePE32, []byte(strings.Repeat("MZ driver code ", 40)))
	}
	driverPayload = func(t *testing.T) []byte {
		return unittest.Stream(peSection(t), unittest.UISection(t, "Driver"))
	}
)

// driverImage is a 64 KiB volume holding a raw file and a driver whose
// sections are LZMA compressed.
func driverImage(t *testing.T) []byte {
	t.Helper()
	return unittest.Volume(t, 0x10000, pol,
		unittest.File(t, unittest.RawFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 0x100-uefi.FileHeaderMinLength)),
		unittest.File(t, unittest.DXEFileGUID, uefi.FVFileTypeDriver, pol,
			unittest.CompressionSection(t, compression.AlgorithmLZMA, uefi.CompressionTypeCustomized,
				peSection(t), unittest.UISection(t, "Driver"))),
	)
}

func open(t *testing.T, img []byte) *engine.Engine {
	t.Helper()
	e := engine.Open(img, engine.Options{})
	require.Empty(t, e.Diagnostics().Filter(layout.SeverityWarning), "%v", e.Diagnostics().Records())
	require.NoError(t, e.Validate())
	return e
}

func image(t *testing.T, e *engine.Engine) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, e.Save(&buf))
	return buf.Bytes()
}

func TestOpenRoundTrip(t *testing.T) {
	img := driverImage(t)
	e := open(t, img)
	require.Equal(t, img, image(t, e))

	f, err := e.Get(layout.Path{0, 1})
	require.NoError(t, err)
	require.Equal(t, "Driver", f.Attributes.Name)
}

func TestRemoveLeavesPadFile(t *testing.T) {
	img := driverImage(t)
	e := open(t, img)
	driver, err := e.Get(layout.Path{0, 1})
	require.NoError(t, err)
	driverOffset := driver.Offset

	require.NoError(t, e.Remove(layout.Path{0, 0}))

	pad, err := e.Get(layout.Path{0, 0})
	require.NoError(t, err)
	require.Equal(t, layout.KindPadFile, pad.Kind)
	require.Equal(t, uint64(0x100), pad.Size())
	require.Equal(t, uint64(0x48), pad.Offset)
	require.Equal(t, driverOffset, driver.Offset)

	out := image(t, e)
	require.Len(t, out, len(img))
	require.Equal(t, img[0x148:], out[0x148:])

	again := open(t, out)
	pad, err = again.Get(layout.Path{0, 0})
	require.NoError(t, err)
	require.Equal(t, layout.KindPadFile, pad.Kind)
	require.True(t, pad.Attributes.Empty)
	require.Equal(t, uefi.FileStatusValid, pad.Attributes.State)
}

func TestRemoveSectionShrinksFile(t *testing.T) {
	e := open(t, driverImage(t))
	sec, err := e.Get(layout.Path{0, 1, 0})
	require.NoError(t, err)
	require.Len(t, sec.Children, 2)

	require.NoError(t, e.Remove(layout.Path{0, 1, 0, 1}))
	require.Len(t, sec.Children, 1)
	require.Equal(t, peSection(t), sec.Uncompressed)

	again := open(t, image(t, e))
	f, err := again.Get(layout.Path{0, 1})
	require.NoError(t, err)
	require.Empty(t, f.Attributes.Name)
}

func TestRemoveFromImage(t *testing.T) {
	vol := unittest.Volume(t, 0x1000, pol)
	regions := map[uefi.FlashRegionType]uefi.FlashRegion{
		uefi.RegionTypeGBE:  {Base: 0x1, Limit: 0x1},
		uefi.RegionTypeBIOS: {Base: 0x2, Limit: 0x3},
	}
	img := unittest.IntelImage(0x4000, regions, map[uefi.FlashRegionType][]byte{
		uefi.RegionTypeGBE:  []byte("gbe configuration"),
		uefi.RegionTypeBIOS: vol,
	})
	e := open(t, img)

	require.ErrorIs(t, e.Remove(layout.Path{0}), engine.ErrInvalidTarget)
	require.ErrorIs(t, e.Remove(layout.Path{}), engine.ErrInvalidTarget)

	require.NoError(t, e.Remove(layout.Path{1}))
	n, err := e.Get(layout.Path{1})
	require.NoError(t, err)
	require.Equal(t, layout.KindPadding, n.Kind)
	require.Equal(t, uint64(0x1000), n.Offset)

	require.NoError(t, e.Remove(layout.Path{2, 0}))
	bios, err := e.Get(layout.Path{2})
	require.NoError(t, err)
	require.Equal(t, uint64(0x2000), bios.Size())

	out := image(t, e)
	require.Len(t, out, len(img))
	require.Equal(t, img[:0x1000], out[:0x1000])
	require.True(t, uefi.IsErased(out[0x1000:], pol))
}

func TestInsert(t *testing.T) {
	raw64 := unittest.File(t, unittest.AppFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 64-uefi.FileHeaderMinLength))
	ui := unittest.UISection(t, "Renamed")

	t.Run("append before free space", func(t *testing.T) {
		e := open(t, driverImage(t))
		at, err := e.Insert(layout.Path{0}, raw64, engine.ObjectFile, engine.InsertAppend, 0)
		require.NoError(t, err)
		require.Equal(t, layout.Path{0, 2}, at)

		vol, err := e.Get(layout.Path{0})
		require.NoError(t, err)
		require.Equal(t, uint64(0x10000), vol.Size())
		require.Equal(t, layout.KindPadding, vol.Children[3].Kind)

		again := open(t, image(t, e))
		f, err := again.Get(at)
		require.NoError(t, err)
		require.Equal(t, unittest.AppFileGUID, f.GUID)
	})

	t.Run("full volume grows", func(t *testing.T) {
		full := unittest.File(t, unittest.RawFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 0x10000-0x48-0x18))
		e := open(t, unittest.Volume(t, 0x10000, pol, full))
		at, err := e.Insert(layout.Path{0}, raw64, engine.ObjectFile, engine.InsertAppend, 0)
		require.NoError(t, err)
		require.Equal(t, layout.Path{0, 1}, at)

		vol, err := e.Get(layout.Path{0})
		require.NoError(t, err)
		require.Greater(t, vol.Size(), uint64(0x10000))
		require.Equal(t, uint64(0x11000), uefi.VolumeLength(vol.Header))
		require.Len(t, image(t, e), 0x11000)
	})

	t.Run("prepend", func(t *testing.T) {
		e := open(t, driverImage(t))
		at, err := e.Insert(layout.Path{0}, raw64, engine.ObjectFile, engine.InsertPrepend, 0)
		require.NoError(t, err)
		n, err := e.Get(at)
		require.NoError(t, err)
		require.Equal(t, uint64(0x48), n.Offset)
	})

	t.Run("section into compressed section", func(t *testing.T) {
		e := open(t, driverImage(t))
		at, err := e.Insert(layout.Path{0, 1, 0}, ui, engine.ObjectSection, engine.InsertBefore, 1)
		require.NoError(t, err)
		require.Equal(t, layout.Path{0, 1, 0, 1}, at)

		again := open(t, image(t, e))
		f, err := again.Get(layout.Path{0, 1})
		require.NoError(t, err)
		require.Equal(t, "Renamed", f.Attributes.Name)
		require.Len(t, f.Children[0].Children, 3)
	})

	t.Run("invalid targets", func(t *testing.T) {
		e := open(t, driverImage(t))
		_, err := e.Insert(layout.Path{0, 1}, raw64, engine.ObjectFile, engine.InsertAppend, 0)
		require.ErrorIs(t, err, engine.ErrInvalidTarget)
		_, err = e.Insert(layout.Path{0, 0}, ui, engine.ObjectSection, engine.InsertAppend, 0)
		require.ErrorIs(t, err, engine.ErrInvalidTarget)
		_, err = e.Insert(layout.Path{0}, ui, engine.ObjectFile, engine.InsertAppend, 0)
		require.ErrorIs(t, err, engine.ErrInvalidTarget)
		_, err = e.Insert(layout.Path{0}, raw64, engine.ObjectFile, engine.InsertAfter, 7)
		require.ErrorIs(t, err, layout.ErrPathInvalid)
		_, err = e.Insert(layout.Path{5}, raw64, engine.ObjectFile, engine.InsertAppend, 0)
		require.ErrorIs(t, err, layout.ErrPathInvalid)
	})
}

func TestInsertOverflowLeavesModel(t *testing.T) {
	full := unittest.File(t, unittest.RawFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 0x1000-0x48-0x18))
	regions := map[uefi.FlashRegionType]uefi.FlashRegion{uefi.RegionTypeBIOS: {Base: 0x1, Limit: 0x1}}
	img := unittest.IntelImage(0x2000, regions, map[uefi.FlashRegionType][]byte{
		uefi.RegionTypeBIOS: unittest.Volume(t, 0x1000, pol, full),
	})
	e := open(t, img)
	var events []layout.Event
	e.Subscribe(layout.ObserverFunc(func(ev layout.Event) { events = append(events, ev) }))

	raw := unittest.File(t, unittest.AppFileGUID, uefi.FVFileTypeRaw, pol, []byte{1, 2, 3})
	_, err := e.Insert(layout.Path{1, 0}, raw, engine.ObjectFile, engine.InsertAppend, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, reconstruct.ErrCapacityExceeded)

	vol, err := e.Get(layout.Path{1, 0})
	require.NoError(t, err)
	require.Len(t, vol.Children, 1)
	require.Equal(t, img, image(t, e))
	require.Len(t, events, 2)
	require.Equal(t, layout.EventInserted, events[0].Type)
	require.Equal(t, layout.EventRemoved, events[1].Type)
}

func TestChangeCompression(t *testing.T) {
	for _, alg := range []compression.Algorithm{
		compression.AlgorithmNone,
		compression.AlgorithmEFI,
		compression.AlgorithmTiano,
		compression.AlgorithmLZMA,
	} {
		t.Run(alg.String(), func(t *testing.T) {
			e := open(t, driverImage(t))
			require.NoError(t, e.ChangeCompression(layout.Path{0, 1, 0}, alg))

			again := open(t, image(t, e))
			sec, err := again.Get(layout.Path{0, 1, 0})
			require.NoError(t, err)
			require.Equal(t, driverPayload(t), sec.Uncompressed)
			if alg == compression.AlgorithmEFI || alg == compression.AlgorithmTiano {
				require.Contains(t, []compression.Algorithm{compression.AlgorithmEFI, compression.AlgorithmTiano}, sec.Attributes.Compression)
			} else {
				require.Equal(t, alg, sec.Attributes.Compression)
			}
		})
	}
}

func TestChangeCompressionGUIDDefined(t *testing.T) {
	img := unittest.Volume(t, 0x10000, pol,
		unittest.File(t, unittest.DXEFileGUID, uefi.FVFileTypeDriver, pol,
			unittest.CompressedGUIDSection(t, compression.AlgorithmLZMA, peSection(t), unittest.UISection(t, "Driver"))))
	for _, alg := range []compression.Algorithm{
		compression.AlgorithmLZMAX86,
		compression.AlgorithmTiano,
		compression.AlgorithmLZMA,
	} {
		t.Run(alg.String(), func(t *testing.T) {
			e := open(t, img)
			require.NoError(t, e.ChangeCompression(layout.Path{0, 0, 0}, alg))

			again := open(t, image(t, e))
			sec, err := again.Get(layout.Path{0, 0, 0})
			require.NoError(t, err)
			want, ok := compression.GUIDFromAlgorithm(alg)
			require.True(t, ok)
			require.Equal(t, want, sec.GUID)
			require.Equal(t, alg, sec.Attributes.Compression)
			require.Equal(t, driverPayload(t), sec.Uncompressed)
		})
	}
}

func TestChangeCompressionErrors(t *testing.T) {
	e := open(t, driverImage(t))
	require.ErrorIs(t, e.ChangeCompression(layout.Path{0, 1}, compression.AlgorithmLZMA), engine.ErrNotCompressible)
	require.ErrorIs(t, e.ChangeCompression(layout.Path{0, 1, 0, 0}, compression.AlgorithmLZMA), engine.ErrNotCompressible)
	require.ErrorIs(t, e.ChangeCompression(layout.Path{0, 1, 0}, compression.AlgorithmLZMAX86), compression.ErrUnsupportedAlgorithm)

	sec, err := e.Get(layout.Path{0, 1, 0})
	require.NoError(t, err)
	require.Equal(t, compression.AlgorithmLZMA, sec.Attributes.Compression)
}

func TestExtract(t *testing.T) {
	img := driverImage(t)
	e := open(t, img)
	sec, err := e.Get(layout.Path{0, 1, 0})
	require.NoError(t, err)
	stored := append([]byte(nil), sec.Bytes()...)

	for _, tt := range []struct {
		mode engine.ExtractMode
		want []byte
	}{
		{engine.ExtractAsStored, stored},
		{engine.ExtractBodyOnly, driverPayload(t)},
		{engine.ExtractRaw, stored},
	} {
		t.Run(tt.mode.String(), func(t *testing.T) {
			got, err := e.Extract(layout.Path{0, 1, 0}, tt.mode)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	require.NoError(t, e.ChangeCompression(layout.Path{0, 1, 0}, compression.AlgorithmNone))
	asStored, err := e.Extract(layout.Path{0, 1, 0}, engine.ExtractAsStored)
	require.NoError(t, err)
	raw, err := e.Extract(layout.Path{0, 1, 0}, engine.ExtractRaw)
	require.NoError(t, err)
	assert.NotEqual(t, asStored, raw)
	assert.Equal(t, stored, raw)

	whole, err := e.Extract(layout.Path{}, engine.ExtractRaw)
	require.NoError(t, err)
	assert.Equal(t, img, whole)

	m, err := engine.ParseExtractMode("body")
	require.NoError(t, err)
	assert.Equal(t, engine.ExtractBodyOnly, m)
}

func TestExtractLeavesModel(t *testing.T) {
	img := driverImage(t)
	e := open(t, img)
	var events []layout.Event
	e.Subscribe(layout.ObserverFunc(func(ev layout.Event) { events = append(events, ev) }))

	ui, err := e.Get(layout.Path{0, 1, 0, 1})
	require.NoError(t, err)
	ui.MarkDirty()

	for _, mode := range []engine.ExtractMode{engine.ExtractBodyOnly, engine.ExtractAsStored} {
		_, err := e.Extract(layout.Path{0, 1, 0}, mode)
		require.NoError(t, err)
	}
	body, err := e.Extract(layout.Path{0, 1, 0}, engine.ExtractBodyOnly)
	require.NoError(t, err)
	require.Equal(t, driverPayload(t), body)

	sec, err := e.Get(layout.Path{0, 1, 0})
	require.NoError(t, err)
	require.True(t, sec.Dirty)
	require.True(t, ui.Dirty)
	require.Empty(t, events)
}

func TestReplace(t *testing.T) {
	e := open(t, driverImage(t))
	replacement := unittest.File(t, unittest.AppFileGUID, uefi.FVFileTypeDriver, pol,
		unittest.Stream(unittest.Section(t, uefi.SectionTypeRaw, []byte("new")), unittest.UISection(t, "New")))
	require.NoError(t, e.Replace(layout.Path{0, 1}, replacement))

	again := open(t, image(t, e))
	f, err := again.Get(layout.Path{0, 1})
	require.NoError(t, err)
	require.Equal(t, unittest.AppFileGUID, f.GUID)
	require.Equal(t, "New", f.Attributes.Name)

	require.ErrorIs(t, e.Replace(layout.Path{0, 1}, []byte("garbage")), engine.ErrInvalidTarget)
	require.ErrorIs(t, e.Replace(layout.Path{0, 2}, replacement), engine.ErrInvalidTarget)
}

func TestNotifications(t *testing.T) {
	e := open(t, driverImage(t))
	var events []string
	cancel := e.Subscribe(layout.ObserverFunc(func(ev layout.Event) {
		events = append(events, ev.Type.String()+" "+ev.Path.String())
	}))

	raw := unittest.File(t, unittest.AppFileGUID, uefi.FVFileTypeRaw, pol, []byte{1})
	_, err := e.Insert(layout.Path{0}, raw, engine.ObjectFile, engine.InsertAppend, 0)
	require.NoError(t, err)
	require.NoError(t, e.Remove(layout.Path{0, 0}))
	require.NoError(t, e.Remove(layout.Path{0, 1, 0, 1}))
	cancel()
	require.NoError(t, e.Remove(layout.Path{0, 2}))

	require.Equal(t, []string{
		"Inserted /0/2",
		"Replaced /0/0",
		"Removed /0/1/0/1",
	}, events)
}

func TestValidate(t *testing.T) {
	img := driverImage(t)
	// Break the header checksum of the first file.
	img[0x48+16] ^= 0xFF
	e := engine.Open(img, engine.Options{})
	err := e.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "header checksum")

	require.NoError(t, e.Rebuild(layout.Path{0, 0}))
	require.NoError(t, e.Validate())
}

func TestDiagnosticsOfInsertedObjects(t *testing.T) {
	e := open(t, driverImage(t))
	before := e.Diagnostics().Len()
	sec := unittest.CompressionSection(t, compression.AlgorithmNone, 7,
		unittest.Section(t, uefi.SectionTypeRaw, []byte{1, 2, 3, 4}))
	at, err := e.Insert(layout.Path{0, 1, 0}, sec, engine.ObjectSection, engine.InsertAppend, 0)
	require.NoError(t, err)
	records := e.Diagnostics().Records()[before:]
	require.Len(t, records, 1)
	require.Equal(t, at, records[0].Path)
	require.Equal(t, layout.SeverityWarning, records[0].Severity)
	require.ErrorIs(t, records[0], compression.ErrUnsupportedAlgorithm)
}

func TestOpenBareSection(t *testing.T) {
	sec := unittest.Section(t, uefi.SectionTypeRaw, []byte("bare"))
	e := engine.Open(sec, engine.Options{Parser: parser.Options{MaxDepth: 4}})
	n, err := e.Get(layout.Path{0})
	require.NoError(t, err)
	require.Equal(t, layout.KindSection, n.Kind)
	require.Equal(t, sec, image(t, e))
}

func kindsOf(nodes []*layout.Node) []layout.Kind {
	out := make([]layout.Kind, len(nodes))
	for i, n := range nodes {
		out[i] = n.Kind
	}
	return out
}

// gapImage is a 4 KiB volume holding a raw file at 0x48, erased space and
// a second raw file at 0x800, followed by files.
func gapImage(t *testing.T, files ...[]byte) []byte {
	t.Helper()
	img := unittest.Volume(t, 0x1000, pol,
		unittest.File(t, unittest.RawFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 0x100-uefi.FileHeaderMinLength)))
	off := 0x800
	for _, f := range append([][]byte{
		unittest.File(t, unittest.DXEFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 0x100-uefi.FileHeaderMinLength)),
	}, files...) {
		copy(img[off:], f)
		off = int(uefi.Align8(uint64(off + len(f))))
	}
	return img
}

func TestRemoveKeepsFilesBehindFreeSpace(t *testing.T) {
	t.Run("file in front of the gap", func(t *testing.T) {
		img := gapImage(t)
		e := open(t, img)
		require.NoError(t, e.Remove(layout.Path{0, 0}))

		f, err := e.Get(layout.Path{0, 2})
		require.NoError(t, err)
		require.Equal(t, unittest.DXEFileGUID, f.GUID)
		require.Equal(t, uint64(0x800), f.Offset)

		out := image(t, e)
		require.Equal(t, img[0x148:], out[0x148:])
		f, err = open(t, out).Get(layout.Path{0, 2})
		require.NoError(t, err)
		require.Equal(t, uint64(0x800), f.Offset)
	})

	t.Run("file behind the gap", func(t *testing.T) {
		img := gapImage(t)
		e := open(t, img)
		require.NoError(t, e.Remove(layout.Path{0, 2}))

		again := open(t, image(t, e))
		vol, err := again.Get(layout.Path{0})
		require.NoError(t, err)
		require.Equal(t, []layout.Kind{layout.KindFile, layout.KindPadFile, layout.KindPadFile, layout.KindPadding},
			kindsOf(vol.Children))
		require.Equal(t, uint64(0x800), vol.Children[2].Offset)
		require.Equal(t, uint64(0x100), vol.Children[2].Size())
	})

	t.Run("unedited rebuild", func(t *testing.T) {
		img := gapImage(t)
		e := open(t, img)
		require.NoError(t, e.Rebuild(layout.Path{0}))
		require.Equal(t, img, image(t, e))
	})
}

func TestInsertGivesUpFreeSpaceBeforeGrowing(t *testing.T) {
	big := unittest.File(t, *guid.MustParse("8B3B6A43-9C4D-4B1E-A2F0-6C1D0E5B7A21"), uefi.FVFileTypeRaw, pol,
		make([]byte, 0x600-uefi.FileHeaderMinLength))
	e := open(t, gapImage(t, big))
	raw := unittest.File(t, unittest.AppFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 0x200-uefi.FileHeaderMinLength))

	at, err := e.Insert(layout.Path{0}, raw, engine.ObjectFile, engine.InsertAppend, 0)
	require.NoError(t, err)
	require.Equal(t, layout.Path{0, 3}, at)

	n, err := e.Get(at)
	require.NoError(t, err)
	require.Equal(t, unittest.AppFileGUID, n.GUID)
	vol, err := e.Get(layout.Path{0})
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), vol.Size())
	require.Equal(t, uint64(0x148), vol.Children[1].Offset)
}

func TestInsertPathAfterTopFile(t *testing.T) {
	top := unittest.File(t, uefi.VolumeTopFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 0x28))
	img := driverImage(t)
	copy(img[len(img)-len(top):], top)
	e := open(t, img)
	vol, err := e.Get(layout.Path{0})
	require.NoError(t, err)
	require.Equal(t, uefi.VolumeTopFileGUID, vol.Children[len(vol.Children)-1].GUID)

	raw := unittest.File(t, unittest.AppFileGUID, uefi.FVFileTypeRaw, pol, []byte{1, 2, 3})
	at, err := e.Insert(layout.Path{0}, raw, engine.ObjectFile, engine.InsertAppend, 0)
	require.NoError(t, err)

	n, err := e.Get(at)
	require.NoError(t, err)
	require.Equal(t, unittest.AppFileGUID, n.GUID)
	last := vol.Children[len(vol.Children)-1]
	require.Equal(t, uefi.VolumeTopFileGUID, last.GUID)
}
