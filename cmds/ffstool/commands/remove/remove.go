// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remove

import (
	"github.com/linuxboot/ffsengine/cmds/ffstool/commands"
	"github.com/linuxboot/ffsengine/pkg/log"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Image
	commands.Output
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "removes nodes"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Removes the nodes at the PATH arguments. A file leaves a pad file of the same size, " +
		"a region or volume leaves erased space. The image keeps its size."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	paths, err := commands.ParsePaths(args)
	if err != nil {
		return err
	}
	e, err := cmd.Open()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := e.Remove(p); err != nil {
			return err
		}
		log.Infof("removed %v", p)
	}
	return cmd.Save(e, cmd.Image)
}
