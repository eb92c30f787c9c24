// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tree

import (
	"fmt"
	"os"
	"strings"

	"github.com/linuxboot/ffsengine/cmds/ffstool/commands"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/visitors"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Image
	Format *string `long:"format" description:"output format [table, json]"`
	Depth  int     `long:"depth" description:"print nodes at most this deep, 0 for all"`
}

type Format int

const (
	FormatUndefined = Format(iota)
	FormatTable
	FormatJSON
)

func ParseFormat(s string) Format {
	switch strings.Trim(strings.ToLower(s), " ") {
	case "table":
		return FormatTable
	case "json":
		return FormatJSON
	}
	return FormatUndefined
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "prints the layout tree"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Prints the path, kind, name, offset and size of every node. " +
		"An optional PATH argument selects the subtree to print."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) > 1 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}

	format := FormatTable
	if cmd.Format != nil {
		format = ParseFormat(*cmd.Format)
		if format == FormatUndefined {
			return commands.ErrArgs{Err: fmt.Errorf("unknown format '%s'", *cmd.Format)}
		}
	}

	e, err := cmd.Open()
	if err != nil {
		return err
	}
	commands.PrintDiagnostics(e)

	var p layout.Path
	if len(args) == 1 {
		if p, err = layout.ParsePath(args[0]); err != nil {
			return commands.ErrArgs{Err: err}
		}
	}
	n, err := e.Get(p)
	if err != nil {
		return err
	}

	var v layout.Visitor
	switch format {
	case FormatJSON:
		v = &visitors.JSON{W: os.Stdout}
	default:
		v = &visitors.Table{W: os.Stdout, Depth: cmd.Depth}
	}
	return v.Run(n)
}
