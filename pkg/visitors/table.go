// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/camelcase"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// Table prints the paths, kinds, names, offsets and sizes as a table.
type Table struct {
	W io.Writer
	// Depth limits the rows to nodes at most this deep. Zero prints all.
	Depth int

	t      table.Writer
	indent int
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Table) Run(n *layout.Node) error {
	v.t = table.NewWriter()
	v.t.SetOutputMirror(v.W)
	v.t.AppendHeader(table.Row{"Path", "Node", "GUID/Name", "Type", "Offset", "Size", ""})
	v.indent = 0
	if err := n.Apply(v); err != nil {
		return err
	}
	v.t.Render()
	return nil
}

// Visit applies the Table visitor to any node.
func (v *Table) Visit(n *layout.Node) error {
	offset := fmt.Sprintf("%#x", n.Offset)
	if n.InCompressed {
		offset = "~" + offset
	}
	v.t.AppendRow(table.Row{
		n.Path().String(),
		indent(v.indent) + KindLabel(n.Kind),
		n.Label(),
		typeName(n),
		offset,
		fmt.Sprintf("%#x", n.Size()),
		humanize.IBytes(n.Size()),
	})
	if v.Depth > 0 && v.indent+1 > v.Depth {
		return nil
	}
	v.indent++
	defer func() { v.indent-- }()
	return n.ApplyChildren(v)
}

func indent(n int) string {
	return strings.Repeat(" ", n)
}

// KindLabel spells a kind as separate words: "Flash Descriptor Region".
func KindLabel(k layout.Kind) string {
	return strings.Join(camelcase.Split(k.String()), " ")
}

func init() {
	RegisterCLI("table", "print out important information in a pretty table", 0, func(*engine.Engine, []string) (layout.Visitor, error) {
		return &Table{W: Stdout}, nil
	})
}
