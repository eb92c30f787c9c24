// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/ffsengine/internal/unittest"
	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

const pol = uefi.ErasePolarityOne

var (
	dxeCoreGUID = *guid.MustParse("5AE3F37E-4EAE-41AE-8240-35465B5E81EB")
	keepGUID    = *guid.MustParse("11111111-2222-3333-4444-555555555555")
	dropGUID    = *guid.MustParse("66666666-7777-8888-9999-AAAAAAAAAAAA")
)

func peSection(t *testing.T) []byte {
	return unittest.Section(t, uefi.SectionTypePE32, []byte(strings.Repeat("MZ driver code ", 40)))
}

// testImage is a 64 KiB volume holding a raw file and a driver whose
// sections are LZMA compressed.
func testImage(t *testing.T) []byte {
	t.Helper()
	return unittest.Volume(t, 0x10000, pol,
		unittest.File(t, unittest.RawFileGUID, uefi.FVFileTypeRaw, pol, make([]byte, 0x100-uefi.FileHeaderMinLength)),
		unittest.File(t, unittest.DXEFileGUID, uefi.FVFileTypeDriver, pol,
			unittest.CompressionSection(t, compression.AlgorithmLZMA, uefi.CompressionTypeCustomized,
				peSection(t), unittest.UISection(t, "Driver"))),
	)
}

// dxeImage holds a DXE core and two named drivers.
func dxeImage(t *testing.T) []byte {
	t.Helper()
	named := func(g guid.GUID, typ uefi.FVFileType, name string) []byte {
		return unittest.File(t, g, typ, pol, unittest.Stream(peSection(t), unittest.UISection(t, name)))
	}
	return unittest.Volume(t, 0x10000, pol,
		named(dxeCoreGUID, uefi.FVFileTypeDXECore, "DxeCore"),
		named(keepGUID, uefi.FVFileTypeDriver, "Keep"),
		named(dropGUID, uefi.FVFileTypeDriver, "Drop"),
	)
}

func open(t *testing.T, img []byte) *engine.Engine {
	t.Helper()
	e := engine.Open(img, engine.Options{})
	require.Empty(t, e.Diagnostics().Filter(layout.SeverityWarning), "%v", e.Diagnostics().Records())
	return e
}

func root(e *engine.Engine) *layout.Node {
	return e.Model().Root()
}

func image(t *testing.T, e *engine.Engine) []byte {
	t.Helper()
	b, err := e.ReconstructImage()
	require.NoError(t, err)
	return b
}

func find(t *testing.T, n *layout.Node, pred FindPredicate) []*layout.Node {
	t.Helper()
	f := &Find{Predicate: pred}
	require.NoError(t, f.Run(n))
	return f.Matches
}

func paths(nodes []*layout.Node) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.Path().String())
	}
	return out
}

func TestCount(t *testing.T) {
	e := open(t, testImage(t))
	count := &Count{}
	require.NoError(t, count.Run(root(e)))

	tests := []struct {
		m    map[string]int
		key  string
		want int
	}{
		{count.KindCount, "Root", 1},
		{count.KindCount, "Volume", 1},
		{count.KindCount, "File", 2},
		{count.KindCount, "Section", 3},
		{count.KindCount, "Padding", 1},
		{count.FileTypeCount, "EFI_FV_FILETYPE_RAW", 1},
		{count.FileTypeCount, "EFI_FV_FILETYPE_DRIVER", 1},
		{count.SectionTypeCount, "EFI_SECTION_COMPRESSION", 1},
		{count.SectionTypeCount, "EFI_SECTION_PE32", 1},
		{count.SectionTypeCount, "EFI_SECTION_USER_INTERFACE", 1},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m[tt.key])
		})
	}

	var buf bytes.Buffer
	require.NoError(t, (&Count{W: &buf}).Run(root(e)))
	assert.Contains(t, buf.String(), `"EFI_FV_FILETYPE_DRIVER": 1`)
}

func TestFind(t *testing.T) {
	e := open(t, testImage(t))
	r := root(e)

	byName, err := FindFilePredicate("Driver")
	require.NoError(t, err)
	byLowerGUID, err := FindFilePredicate(strings.ToLower(unittest.RawFileGUID.String()))
	require.NoError(t, err)
	byPath, err := FindTargetPredicate("/0/1/0")
	require.NoError(t, err)
	byFS, err := FindFileFVPredicate("FFS2")
	require.NoError(t, err)

	tests := []struct {
		name string
		pred FindPredicate
		want []string
	}{
		{"guid", FindFileGUIDPredicate(unittest.DXEFileGUID), []string{"/0/1"}},
		{"name", byName, []string{"/0/1"}},
		{"case insensitive guid", byLowerGUID, []string{"/0/0"}},
		{"path", byPath, []string{"/0/1/0"}},
		{"type", FindFileTypePredicate(uefi.FVFileTypeRaw), []string{"/0/0"}},
		{"sections", FindKindPredicate(layout.KindSection), []string{"/0/1/0", "/0/1/0/0", "/0/1/0/1"}},
		{"not", FindAndPredicate(FindKindPredicate(layout.KindSection),
			FindNotPredicate(FindSectionTypePredicate(uefi.SectionTypeCompression))), []string{"/0/1/0/0", "/0/1/0/1"}},
		{"volume", byFS, []string{"/0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, paths(find(t, r, tt.pred)))
		})
	}

	_, err = FindExactlyOne(r, FindKindPredicate(layout.KindFile))
	require.Error(t, err)
	_, err = FindDXEFV(r)
	require.Error(t, err)

	_, err = FindFilePredicate("(")
	require.Error(t, err)
	_, err = FindTargetPredicate("/0/x")
	require.ErrorIs(t, err, layout.ErrPathInvalid)
}

func TestFindDXEFV(t *testing.T) {
	e := open(t, dxeImage(t))
	fv, err := FindDXEFV(root(e))
	require.NoError(t, err)
	require.Equal(t, layout.Path{0}, fv.Path())
}

func TestTable(t *testing.T) {
	e := open(t, testImage(t))
	var buf bytes.Buffer
	require.NoError(t, (&Table{W: &buf}).Run(root(e)))
	out := buf.String()
	for _, want := range []string{"/0/1/0/1", "EFI_SECTION_PE32", "EFI_FV_FILETYPE_DRIVER", "64 KiB", "~0x"} {
		assert.Contains(t, out, want)
	}

	buf.Reset()
	require.NoError(t, (&Table{W: &buf, Depth: 1}).Run(root(e)))
	assert.Contains(t, buf.String(), "Volume")
	assert.NotContains(t, buf.String(), "/0/1")
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "Flash Descriptor Region", KindLabel(layout.KindFlashDescriptorRegion))
	assert.Equal(t, "Pad File", KindLabel(layout.KindPadFile))
	assert.Equal(t, "Volume", KindLabel(layout.KindVolume))
}

func TestJSON(t *testing.T) {
	e := open(t, testImage(t))
	var buf bytes.Buffer
	require.NoError(t, (&JSON{W: &buf}).Run(root(e)))

	var got NodeJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "Root", got.Kind)
	require.Len(t, got.Children, 1)
	fv := got.Children[0]
	require.Equal(t, "Volume", fv.Kind)
	require.Equal(t, uint64(0x10000), fv.Size)
	require.Len(t, fv.Children, 3)
	driver := fv.Children[1]
	assert.Equal(t, "Driver", driver.Name)
	assert.Equal(t, unittest.DXEFileGUID.String(), driver.GUID)
	assert.Equal(t, "EFI_FV_FILETYPE_DRIVER", driver.Type)
	assert.Empty(t, driver.Checksums)
	require.Len(t, driver.Children, 1)
	assert.Equal(t, "LZMA", driver.Children[0].Compression)
	assert.True(t, driver.Children[0].Children[0].InCompressed)
	assert.True(t, fv.Children[2].Empty)
}

func TestFlatten(t *testing.T) {
	e := open(t, testImage(t))
	v := &Flatten{}
	require.NoError(t, v.Run(root(e)))
	require.Len(t, v.List, 8)
	assert.Equal(t, 0, v.List[0].Parent)
	assert.Equal(t, 0, v.List[1].Parent)
	assert.Equal(t, 1, v.List[2].Parent)
	assert.Equal(t, "/0/1/0/1", v.List[6].Value.Path)
	assert.Equal(t, 4, v.List[6].Parent)
	assert.Equal(t, 1, v.List[7].Parent)
	assert.Nil(t, v.List[1].Value.Children)
}

func TestValidate(t *testing.T) {
	img := testImage(t)
	e := open(t, img)
	v := &Validate{Session: e}
	require.NoError(t, v.Run(root(e)))
	require.Empty(t, v.Errors)

	// Header checksum of the raw file.
	img[0x48+16] ^= 0xFF
	e = engine.Open(img, engine.Options{})
	var buf bytes.Buffer
	v = &Validate{Session: e, W: &buf}
	require.Error(t, v.Run(root(e)))
	assert.Contains(t, buf.String(), "header checksum")
	require.Error(t, v.Err())

	// Without the session only the stored bytes are checked.
	v = &Validate{}
	require.NoError(t, v.Run(root(e)))
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0].Error(), "/0/0")
}

func TestAssembleRepairsChecksums(t *testing.T) {
	img := testImage(t)
	want := append([]byte(nil), img...)
	img[0x48+16] ^= 0xFF
	e := engine.Open(img, engine.Options{})

	require.NoError(t, (&Assemble{Session: e}).Run(root(e)))
	require.Equal(t, want, image(t, e))
	require.NoError(t, (&Validate{Session: e}).Run(root(e)))
	root(e).Walk(func(n *layout.Node) bool {
		assert.False(t, n.Dirty, "%v", n)
		return true
	})
}

func TestRemove(t *testing.T) {
	img := testImage(t)
	e := open(t, img)
	pred, err := FindTargetPredicate("Driver")
	require.NoError(t, err)
	v := &Remove{Session: e, Predicate: pred}
	require.NoError(t, v.Run(root(e)))
	require.Len(t, v.Matches, 1)

	n, err := e.Get(layout.Path{0, 1})
	require.NoError(t, err)
	assert.Equal(t, layout.KindPadFile, n.Kind)
	assert.Len(t, image(t, e), len(img))
}

func TestRemoveDxesExcept(t *testing.T) {
	e := open(t, dxeImage(t))
	list, err := parseBlackList("list", "# kept drivers\nDxeCore\n\nKeep\n")
	require.NoError(t, err)
	require.Equal(t, "(DxeCore)|(Keep)", list)
	pred, err := FindFilePredicate(list)
	require.NoError(t, err)

	require.NoError(t, (&Remove{Session: e, Predicate: pred, RemoveDxes: true}).Run(root(e)))
	var kinds []layout.Kind
	for _, c := range root(e).Children[0].Children {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []layout.Kind{layout.KindFile, layout.KindFile, layout.KindPadFile, layout.KindPadding}, kinds)

	_, err = parseBlackList("list", "(")
	require.Error(t, err)
}

func TestInserter(t *testing.T) {
	newFile := func(t *testing.T) []byte {
		return unittest.File(t, unittest.AppFileGUID, uefi.FVFileTypeRaw, pol, []byte("some raw payload"))
	}
	rawPred := FindFileGUIDPredicate(unittest.RawFileGUID)

	tests := []struct {
		name  string
		where InsertWherePreposition
		pad   uint64
		want  layout.Path
		kind  layout.Kind
	}{
		{"end", InsertWherePrepositionEnd, 0, layout.Path{0, 2}, layout.KindFile},
		{"front", InsertWherePrepositionFront, 0, layout.Path{0, 0}, layout.KindFile},
		{"after", InsertWherePrepositionAfter, 0, layout.Path{0, 1}, layout.KindFile},
		{"before", InsertWherePrepositionBefore, 0, layout.Path{0, 0}, layout.KindFile},
		{"pad file", InsertWherePrepositionAfter, 0x100, layout.Path{0, 1}, layout.KindPadFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := open(t, testImage(t))
			v := &Inserter{
				Session:   e,
				Predicate: rawPred,
				Data:      newFile(t),
				Object:    engine.ObjectFile,
				Where:     tt.where,
				PadSize:   tt.pad,
			}
			require.NoError(t, v.Run(root(e)))
			require.Equal(t, tt.want, v.Inserted)
			n, err := e.Get(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, n.Kind)
			assert.Len(t, image(t, e), 0x10000)
		})
	}

	t.Run("replace", func(t *testing.T) {
		e := open(t, testImage(t))
		v := &Inserter{Session: e, Predicate: rawPred, Data: newFile(t), Object: engine.ObjectFile, Where: InsertWherePrepositionReplace}
		require.NoError(t, v.Run(root(e)))
		n, err := e.Get(layout.Path{0, 0})
		require.NoError(t, err)
		assert.Equal(t, unittest.AppFileGUID, n.GUID)
	})

	t.Run("no match", func(t *testing.T) {
		e := open(t, testImage(t))
		v := &Inserter{Session: e, Predicate: FindFileGUIDPredicate(unittest.AppFileGUID), Data: newFile(t), Where: InsertWherePrepositionEnd}
		require.Error(t, v.Run(root(e)))
	})
}

func TestParseInsertWherePreposition(t *testing.T) {
	for p := InsertWherePrepositionFront; p < EndOfInsertWherePreposition; p++ {
		assert.Equal(t, p, ParseInsertWherePreposition(" "+strings.ToUpper(p.String())))
	}
	assert.Equal(t, InsertWherePrepositionUndefined, ParseInsertWherePreposition("inside"))
}

func TestRepack(t *testing.T) {
	e := open(t, testImage(t))
	before, err := e.Extract(layout.Path{0, 1, 0}, engine.ExtractBodyOnly)
	require.NoError(t, err)

	pred, err := FindFilePredicate("Driver")
	require.NoError(t, err)
	v := &Repack{Session: e, Predicate: pred, Algorithm: compression.AlgorithmNone}
	require.NoError(t, v.Run(root(e)))
	require.Equal(t, []layout.Path{{0, 1, 0}}, v.Repacked)

	reopened := open(t, image(t, e))
	sec, err := reopened.Get(layout.Path{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, compression.AlgorithmNone, sec.Attributes.Compression)
	after, err := reopened.Extract(layout.Path{0, 1, 0}, engine.ExtractBodyOnly)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Nothing left to change.
	require.NoError(t, v.Run(root(e)))
	require.Empty(t, v.Repacked)
}

func TestDump(t *testing.T) {
	e := open(t, testImage(t))
	var buf bytes.Buffer
	v := &Dump{Session: e, Predicate: FindPathPredicate(layout.Path{0, 1, 0}), Mode: engine.ExtractBodyOnly, W: &buf}
	require.NoError(t, v.Run(root(e)))
	assert.Equal(t, unittest.Stream(peSection(t), unittest.UISection(t, "Driver")), buf.Bytes())

	v.Predicate = FindKindPredicate(layout.KindFile)
	require.Error(t, v.Run(root(e)))
	v.Predicate = FindKindPredicate(layout.KindPdrRegion)
	require.Error(t, v.Run(root(e)))
}

func TestExtract(t *testing.T) {
	img := testImage(t)
	e := open(t, img)
	dir := t.TempDir()
	v := &Extract{Session: e, BasePath: dir}
	require.NoError(t, v.Run(root(e)))
	assert.Equal(t, 9, v.Written)

	got, err := os.ReadFile(filepath.Join(dir, "node.bin"))
	require.NoError(t, err)
	assert.Equal(t, img, got)
	_, err = os.Stat(filepath.Join(dir, "0", "1", "0", "body.bin"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)

	require.Error(t, v.Run(root(e)), "directory is not empty")
	v.Force = true
	require.NoError(t, v.Run(root(e)))
}

func TestCat(t *testing.T) {
	img := unittest.Volume(t, 0x1000, pol,
		unittest.File(t, unittest.AppFileGUID, uefi.FVFileTypeFreeForm, pol,
			unittest.Stream(
				unittest.Section(t, uefi.SectionTypeRaw, []byte("hello ")),
				unittest.UISection(t, "Greeting"),
				unittest.Section(t, uefi.SectionTypeRaw, []byte("world!")),
			)),
	)
	e := open(t, img)
	pred, err := FindFilePredicate("Greeting")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, (&Cat{Predicate: pred, Writer: &buf}).Run(root(e)))
	assert.Equal(t, "hello world!", buf.String())
}

func TestReplacePE32(t *testing.T) {
	e := open(t, testImage(t))
	pred, err := FindFilePredicate("Driver")
	require.NoError(t, err)

	v := &ReplacePE32{Session: e, Predicate: pred, NewPE32: []byte("not a pe")}
	require.Error(t, v.Run(root(e)))

	v.NewPE32 = []byte("MZ a much shorter driver")
	require.NoError(t, v.Run(root(e)))
	sec, err := e.Get(layout.Path{0, 1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, v.NewPE32, sec.Body)

	reopened := open(t, image(t, e))
	sec, err = reopened.Get(layout.Path{0, 1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, v.NewPE32, sec.Body)
}

func TestCreateFV(t *testing.T) {
	e := open(t, testImage(t))
	v := &CreateFV{Session: e, Size: 0x2000}
	require.NoError(t, v.Run(root(e)))
	require.Equal(t, layout.Path{1}, v.Created)

	img := image(t, e)
	require.Len(t, img, 0x12000)
	reopened := open(t, img)
	fv, err := reopened.Get(layout.Path{1})
	require.NoError(t, err)
	assert.Equal(t, layout.KindVolume, fv.Kind)
	assert.Equal(t, uint64(0x2000), fv.Size())

	_, err = EmptyVolume(0x1234, pol)
	require.Error(t, err)
}

func TestSave(t *testing.T) {
	img := testImage(t)
	e := open(t, img)
	out := filepath.Join(t.TempDir(), "out.rom")
	require.NoError(t, (&Save{Session: e, DirPath: out}).Run(root(e)))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestCLI(t *testing.T) {
	var buf bytes.Buffer
	saved := Stdout
	Stdout = &buf
	defer func() { Stdout = saved }()

	e := open(t, testImage(t))
	vs, err := ParseCLI(e, []string{"comment", "hi", "count", "find", "Driver"})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	require.NoError(t, ExecuteCLI(e, vs))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "hi\n"), out)
	assert.Contains(t, out, "KindCount")
	assert.Contains(t, out, `"Name": "Driver"`)

	_, err = ParseCLI(e, []string{"frobnicate"})
	require.Error(t, err)
	_, err = ParseCLI(e, []string{"find"})
	require.Error(t, err)
	_, err = ParseCLI(e, []string{"repack", "Driver", "zstd"})
	require.ErrorIs(t, err, compression.ErrUnsupportedAlgorithm)

	list := ListCLI()
	for _, name := range []string{"count", "find", "insert", "remove", "repack", "table", "validate"} {
		assert.Contains(t, list, "  "+name)
	}
}
