// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/reconstruct"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// InsertWherePreposition defines where an object goes relative to the
// matched node.
type InsertWherePreposition int

const (
	InsertWherePrepositionUndefined = InsertWherePreposition(iota)
	// InsertWherePrepositionFront and InsertWherePrepositionEnd insert
	// into the matched volume, file or section, or into the volume
	// holding the matched file.
	InsertWherePrepositionFront
	InsertWherePrepositionEnd
	// InsertWherePrepositionAfter and InsertWherePrepositionBefore insert
	// next to the matched node.
	InsertWherePrepositionAfter
	InsertWherePrepositionBefore
	// InsertWherePrepositionReplace puts the object in place of the
	// matched node.
	InsertWherePrepositionReplace

	EndOfInsertWherePreposition
)

// String implements fmt.Stringer.
func (p InsertWherePreposition) String() string {
	switch p {
	case InsertWherePrepositionUndefined:
		return "undefined"
	case InsertWherePrepositionFront:
		return "front"
	case InsertWherePrepositionEnd:
		return "end"
	case InsertWherePrepositionAfter:
		return "after"
	case InsertWherePrepositionBefore:
		return "before"
	case InsertWherePrepositionReplace:
		return "replace"
	}
	return fmt.Sprintf("unknown_%d", p)
}

// ParseInsertWherePreposition converts a string to InsertWherePreposition
func ParseInsertWherePreposition(s string) InsertWherePreposition {
	s = strings.Trim(strings.ToLower(s), " \t")
	for t := InsertWherePrepositionUndefined; t < EndOfInsertWherePreposition; t++ {
		if t.String() == s {
			return t
		}
	}
	return InsertWherePrepositionUndefined
}

// Inserter inserts an object next to or into the node matched by Predicate.
type Inserter struct {
	// Input
	Session   *engine.Engine
	Predicate FindPredicate
	// Data is parsed as an object of type Object.
	Data   []byte
	Object engine.ObjectType
	Where  InsertWherePreposition
	// PadSize, when set instead of Data, inserts a pad file of this size
	// built for the target volume.
	PadSize uint64

	// Output
	Inserted layout.Path
	W        io.Writer
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Inserter) Run(n *layout.Node) error {
	match, err := FindExactlyOne(n, v.Predicate)
	if err != nil {
		return err
	}
	return match.Apply(v)
}

// Visit inserts the object relative to n.
func (v *Inserter) Visit(n *layout.Node) error {
	var (
		parent layout.Path
		mode   engine.InsertMode
		ref    int
	)
	switch v.Where {
	case InsertWherePrepositionFront, InsertWherePrepositionEnd:
		target := n
		if n.Kind.IsFile() && v.Object == engine.ObjectFile {
			fv, err := FindEnclosingFV(n)
			if err != nil {
				return err
			}
			target = fv
		}
		parent, mode = target.Path(), engine.InsertAppend
		if v.Where == InsertWherePrepositionFront {
			mode = engine.InsertPrepend
		}
	case InsertWherePrepositionAfter, InsertWherePrepositionBefore:
		if n.Parent == nil {
			return fmt.Errorf("cannot insert %v the root", v.Where)
		}
		p := n.Path()
		parent, ref, mode = p.Parent(), p.Last(), engine.InsertAfter
		if v.Where == InsertWherePrepositionBefore {
			mode = engine.InsertBefore
		}
	case InsertWherePrepositionReplace:
		data, err := v.data(n.Parent)
		if err != nil {
			return err
		}
		if err := v.Session.Replace(n.Path(), data); err != nil {
			return err
		}
		v.Inserted = n.Path()
		v.printf("Replace: %v\n", v.Inserted)
		return nil
	default:
		return fmt.Errorf("unknown where-preposition %v", v.Where)
	}

	target, err := v.Session.Get(parent)
	if err != nil {
		return err
	}
	data, err := v.data(target)
	if err != nil {
		return err
	}
	v.Inserted, err = v.Session.Insert(parent, data, v.Object, mode, ref)
	if err != nil {
		return err
	}
	v.printf("Insert: %v %v\n", v.Object, v.Inserted)
	return nil
}

// data returns the bytes to insert below parent.
func (v *Inserter) data(parent *layout.Node) ([]byte, error) {
	if v.PadSize == 0 {
		return v.Data, nil
	}
	if parent == nil || parent.Kind != layout.KindVolume {
		return nil, fmt.Errorf("pad files only go into volumes")
	}
	return reconstruct.ConstructPadFile(v.PadSize, parent.Attributes.Revision, parent.Attributes.ErasePolarity)
}

func (v *Inserter) printf(format string, a ...interface{}) {
	if v.W != nil {
		fmt.Fprintf(v.W, format, a...)
	}
}

func genInsertFileCLI() func(*engine.Engine, []string) (layout.Visitor, error) {
	return func(e *engine.Engine, args []string) (layout.Visitor, error) {
		v := &Inserter{Session: e, W: Stdout}
		switch args[0] {
		case "pad_file":
			padSize, err := strconv.ParseUint(args[1], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("unable to parse pad file size '%s': %w", args[1], err)
			}
			if padSize < uefi.FileHeaderMinLength {
				return nil, fmt.Errorf("pad file size %#x is below the header size", padSize)
			}
			v.Object, v.PadSize = engine.ObjectFile, padSize
		default:
			t, err := engine.ParseObjectType(args[0])
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return nil, fmt.Errorf("unable to read file '%s': %w", args[1], err)
			}
			v.Object, v.Data = t, data
		}

		v.Where = ParseInsertWherePreposition(args[2])
		if v.Where == InsertWherePrepositionUndefined {
			return nil, fmt.Errorf("unknown where-preposition: '%s'", args[2])
		}

		pred, err := FindTargetPredicate(args[3])
		if err != nil {
			return nil, fmt.Errorf("unable to parse the predicate parameters '%s': %w", args[3], err)
		}
		v.Predicate = pred
		return v, nil
	}
}

func init() {
	RegisterCLI("insert",
		"insert an object. Usage: insert (file|section|volume|pad_file) (PATH|SIZE) (front|end|after|before|replace) (FV_or_File_GUID_or_name|/node/path)",
		4, genInsertFileCLI())
	RegisterCLI("insert_dxe", "insert a file at the end of the DXE volume", 1, func(e *engine.Engine, args []string) (layout.Visitor, error) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("unable to read file '%s': %w", args[0], err)
		}
		return &Inserter{
			Session:   e,
			Predicate: FindFileTypePredicate(uefi.FVFileTypeDXECore),
			Data:      data,
			Object:    engine.ObjectFile,
			Where:     InsertWherePrepositionEnd,
			W:         Stdout,
		}, nil
	})
}
