// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package save

import (
	"fmt"

	"github.com/linuxboot/ffsengine/cmds/ffstool/commands"
	"github.com/linuxboot/ffsengine/pkg/log"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Image
	OutputPath string `short:"o" long:"output" description:"path of the written image" required:"true"`
	Validate   bool   `long:"validate" description:"refuse to write an image with checksum failures or parse errors"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "parses and writes back an image"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Parses the image and writes its reconstruction. An unedited image is written back byte for byte."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}
	e, err := cmd.Open()
	if err != nil {
		return err
	}
	commands.PrintDiagnostics(e)
	if cmd.Validate {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("image is not valid: %w", err)
		}
	}
	out := commands.Output{OutputPath: cmd.OutputPath}
	if err := out.Save(e, cmd.Image); err != nil {
		return err
	}
	log.Infof("wrote %s", cmd.OutputPath)
	return nil
}
