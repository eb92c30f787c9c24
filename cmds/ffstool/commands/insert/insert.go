// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package insert

import (
	"fmt"
	"os"

	"github.com/linuxboot/ffsengine/cmds/ffstool/commands"
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/log"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Image
	commands.Output
	Object string `short:"t" long:"type" description:"object type of the input [file, section, volume]" default:"file"`
	Mode   string `short:"m" long:"mode" description:"where to place the object [append, prepend, before, after]" default:"append"`
	Ref    int    `short:"n" long:"ref" description:"child number the before and after modes are relative to"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "inserts an object"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Parses OBJECT_FILE as a file, section or volume and places it below the node at PARENT_PATH. " +
		"Free space of the parent absorbs the object first, a volume grows when it has to."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 2 {
		return commands.ErrArgs{Err: fmt.Errorf("expected PARENT_PATH OBJECT_FILE")}
	}
	parent, err := layout.ParsePath(args[0])
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	object, err := engine.ParseObjectType(cmd.Object)
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	mode, err := engine.ParseInsertMode(cmd.Mode)
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("unable to read '%s': %w", args[1], err)
	}

	e, err := cmd.Open()
	if err != nil {
		return err
	}
	at, err := e.Insert(parent, data, object, mode, cmd.Ref)
	if err != nil {
		return err
	}
	log.Infof("inserted %v at %v", object, at)
	return cmd.Save(e, cmd.Image)
}
