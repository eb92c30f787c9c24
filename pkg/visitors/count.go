// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// Count counts the number of nodes of each kind, file type and section type.
type Count struct {
	// Optionally write result as JSON.
	W io.Writer `json:"-"`

	// Output
	KindCount        map[string]int
	FileTypeCount    map[string]int
	SectionTypeCount map[string]int
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Count) Run(n *layout.Node) error {
	v.KindCount = map[string]int{}
	v.FileTypeCount = map[string]int{}
	v.SectionTypeCount = map[string]int{}

	if err := n.Apply(v); err != nil {
		return err
	}

	if v.W != nil {
		b, err := json.MarshalIndent(v, "", "\t")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(v.W, string(b))
		return err
	}
	return nil
}

// Visit applies the Count visitor to any node.
func (v *Count) Visit(n *layout.Node) error {
	v.KindCount[n.Kind.String()]++
	switch n.Kind {
	case layout.KindFile, layout.KindPadFile:
		v.FileTypeCount[uefi.FVFileType(n.Subtype).String()]++
	case layout.KindSection:
		v.SectionTypeCount[uefi.SectionType(n.Subtype).String()]++
	}
	return n.ApplyChildren(v)
}

func init() {
	RegisterCLI("count", "count the number of each node kind, file type and section type", 0, func(*engine.Engine, []string) (layout.Visitor, error) {
		return &Count{
			W: Stdout,
		}, nil
	})
}
