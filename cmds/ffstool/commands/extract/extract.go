// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package extract

import (
	"fmt"
	"os"

	"github.com/linuxboot/ffsengine/cmds/ffstool/commands"
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Image
	Mode       string `short:"m" long:"mode" description:"what to extract [as-stored, body, raw]" default:"as-stored"`
	OutputPath string `short:"o" long:"output" description:"file to write, defaults to stdout"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "extracts the bytes of a node"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return `Writes the node at PATH. "as-stored" is the node with its header as it would be written now, ` +
		`"body" is its payload (decompressed for compressed sections) and "raw" is the node as it was parsed.`
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 1 {
		return commands.ErrArgs{Err: fmt.Errorf("expected exactly one node path")}
	}
	p, err := layout.ParsePath(args[0])
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	mode, err := engine.ParseExtractMode(cmd.Mode)
	if err != nil {
		return commands.ErrArgs{Err: err}
	}

	e, err := cmd.Open()
	if err != nil {
		return err
	}
	buf, err := e.Extract(p, mode)
	if err != nil {
		return err
	}

	if cmd.OutputPath == "" {
		_, err = os.Stdout.Write(buf)
		return err
	}
	return os.WriteFile(cmd.OutputPath, buf, 0o644)
}
