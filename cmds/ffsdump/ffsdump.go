// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The ffsdump command parses a UEFI firmware image and runs operations over
// its layout tree.
//
// Synopsis:
//     ffsdump [flags] IMAGE [OPERATIONS...]
//
// Examples:
//     # Dump everything to JSON:
//     ffsdump winterfell.rom
//
//     # Print the diagnostics of the parse and a table of the tree:
//     ffsdump -d winterfell.rom table
//
//     # Dump a single file to JSON (using regex):
//     ffsdump winterfell.rom find Shell
//
//     # Extract everything into a directory:
//     ffsdump winterfell.rom extract winterfell/
//
//     # Remove a file and save the image:
//     ffsdump winterfell.rom \
//       remove 12345678-9abc-def0-1234-567890abcdef \
//       save winterfell2.rom
//
// Operations are applied left-to-right, so a save only includes the
// operations to its left. Run with -h for the list of operations.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/linuxboot/ffsengine/pkg/ffsdump"
	"github.com/linuxboot/ffsengine/pkg/log"
	"github.com/linuxboot/ffsengine/pkg/parser"
	"github.com/linuxboot/ffsengine/pkg/visitors"
)

var (
	diagnostics = flag.BoolP("diagnostics", "d", false, "print the diagnostics of the parse to stderr")
	strict      = flag.BoolP("strict", "s", false, "fail when the parse recorded an error")
	verbose     = flag.BoolP("verbose", "v", false, "log every diagnostic and edit as it happens")
	maxDepth    = flag.Int("max-depth", parser.DefaultMaxDepth, "nesting limit of the parse")
	maxNodes    = flag.Int("max-nodes", parser.DefaultMaxNodes, "node limit of the parse")
	xzPath      = flag.String("xz", "", "xz command used for LZMA encoding, empty for the internal encoder")
	brotliPath  = flag.String("brotli", "", "brotli command, Brotli sections stay opaque without it")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ffsdump [flags] IMAGE [0 or more operations]\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nOperations:\n%s", visitors.ListCLI())
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var cfg ffsdump.Config
	cfg.Options.Parser.MaxDepth = *maxDepth
	cfg.Options.Parser.MaxNodes = *maxNodes
	cfg.Options.Compression.XZPath = *xzPath
	cfg.Options.Compression.BrotliPath = *brotliPath
	cfg.Strict = *strict
	if *verbose {
		cfg.Options.Logger = log.DefaultLogger
	}
	if *diagnostics {
		cfg.Diagnostics = os.Stderr
	}

	if err := ffsdump.Run(cfg, flag.Args()...); err != nil {
		log.Fatalf("%v", err)
	}
}
