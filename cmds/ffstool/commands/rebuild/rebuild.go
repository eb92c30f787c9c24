// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rebuild

import (
	"github.com/linuxboot/ffsengine/cmds/ffstool/commands"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Image
	commands.Output
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "re-serializes nodes"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Recomputes the headers, checksums and compressed streams of the nodes at the PATH arguments " +
		"and of everything above them. Without arguments the whole image is rebuilt."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) == 0 {
		args = []string{"/"}
	}
	paths, err := commands.ParsePaths(args)
	if err != nil {
		return err
	}
	e, err := cmd.Open()
	if err != nil {
		return err
	}
	for _, p := range paths {
		n, err := e.Get(p)
		if err != nil {
			return err
		}
		// Rebuild only re-serializes dirty nodes below p.
		n.Walk(func(c *layout.Node) bool {
			c.Dirty = true
			return true
		})
		if err := e.Rebuild(p); err != nil {
			return err
		}
	}
	return cmd.Save(e, cmd.Image)
}
