// Copyright 2017-2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ffstool edits UEFI and Intel flash images by node path.
//
// Nodes are addressed by the child numbers from the root, as printed by
// "ffstool tree": "/0/2/1" is the second child of the third child of the
// first region or volume.
//
// Synopsis:
//     ffstool tree -f IMAGE [--format=table|json] [--depth N] [PATH]
//     ffstool extract -f IMAGE [-m as-stored|body|raw] [-o FILE] PATH
//     ffstool remove -f IMAGE [-o FILE] PATH...
//     ffstool insert -f IMAGE [-t file|section|volume] [-m append|prepend|before|after] [-n REF] [-o FILE] PARENT_PATH OBJECT_FILE
//     ffstool compress -f IMAGE [-o FILE] PATH ALGORITHM
//     ffstool rebuild -f IMAGE [-o FILE] [PATH...]
//     ffstool save -f IMAGE -o FILE [--validate]
//
// An example:
//     ffstool tree -f firmware.fd
//     ffstool extract -f firmware.fd -m body -o shell.efi /1/4/0/0
//     ffstool remove -f firmware.fd -o small.fd /1/4
//     ffstool insert -f small.fd -t file /1 linux.ffs
//     ffstool compress -f small.fd /1/7/0 LZMA
//
// Edits write the reconstructed image to -o, or back to the input image.
package main

import (
	"github.com/jessevdk/go-flags"

	"github.com/linuxboot/ffsengine/cmds/ffstool/commands"
	"github.com/linuxboot/ffsengine/cmds/ffstool/commands/compress"
	"github.com/linuxboot/ffsengine/cmds/ffstool/commands/extract"
	"github.com/linuxboot/ffsengine/cmds/ffstool/commands/insert"
	"github.com/linuxboot/ffsengine/cmds/ffstool/commands/rebuild"
	"github.com/linuxboot/ffsengine/cmds/ffstool/commands/remove"
	"github.com/linuxboot/ffsengine/cmds/ffstool/commands/save"
	"github.com/linuxboot/ffsengine/cmds/ffstool/commands/tree"
	"github.com/linuxboot/ffsengine/pkg/log"
)

var (
	knownCommands = map[string]commands.Command{
		"tree":     &tree.Command{},
		"extract":  &extract.Command{},
		"remove":   &remove.Command{},
		"insert":   &insert.Command{},
		"compress": &compress.Command{},
		"rebuild":  &rebuild.Command{},
		"save":     &save.Command{},
	}
)

func main() {
	flagsParser := flags.NewParser(nil, flags.Default)
	for commandName, command := range knownCommands {
		_, err := flagsParser.AddCommand(commandName, command.ShortDescription(), command.LongDescription(), command)
		if err != nil {
			panic(err)
		}
	}

	// parse arguments and execute the appropriate command
	if _, err := flagsParser.Parse(); err != nil {
		log.Fatalf("%v", err)
	}
}
