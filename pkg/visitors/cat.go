// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"io"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// Cat concatenates all RAW data sections of the matched files.
type Cat struct {
	// Input
	Predicate FindPredicate

	// Output
	io.Writer
	Matches []*layout.Node
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Cat) Run(n *layout.Node) error {
	find := Find{
		Predicate: v.Predicate,
	}
	if err := find.Run(n); err != nil {
		return err
	}

	v.Matches = find.Matches
	for _, m := range v.Matches {
		if err := m.Apply(v); err != nil {
			return err
		}
	}
	return nil
}

// Visit writes the body of raw sections and descends into everything else.
func (v *Cat) Visit(n *layout.Node) error {
	if n.Kind == layout.KindSection && uefi.SectionType(n.Subtype) == uefi.SectionTypeRaw {
		if _, err := v.Write(n.Body); err != nil {
			return err
		}
	}
	return n.ApplyChildren(v)
}

func init() {
	RegisterCLI("cat", "cat a file with a regexp that matches a GUID or name", 1, func(_ *engine.Engine, args []string) (layout.Visitor, error) {
		pred, err := FindFilePredicate(args[0])
		if err != nil {
			return nil, err
		}
		return &Cat{
			Predicate: pred,
			Writer:    Stdout,
		}, nil
	})
}
