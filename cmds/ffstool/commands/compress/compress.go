// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compress

import (
	"fmt"

	"github.com/linuxboot/ffsengine/cmds/ffstool/commands"
	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/log"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Image
	commands.Output
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "changes the compression of a section"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Re-encodes the compressed section at PATH with ALGORITHM " +
		"(None, EFI, Tiano, LZMA, LZMAX86, ZLIB, LZ4, BROTLI) and rebuilds the image around it."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 2 {
		return commands.ErrArgs{Err: fmt.Errorf("expected PATH ALGORITHM")}
	}
	p, err := layout.ParsePath(args[0])
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	alg, err := compression.ParseAlgorithm(args[1])
	if err != nil {
		return commands.ErrArgs{Err: err}
	}

	e, err := cmd.Open()
	if err != nil {
		return err
	}
	if err := e.ChangeCompression(p, alg); err != nil {
		return err
	}
	log.Infof("%v is now %v compressed", p, alg)
	return cmd.Save(e, cmd.Image)
}
