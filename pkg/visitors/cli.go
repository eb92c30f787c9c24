// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package visitors uses the Visitor interface to recursively apply an
// operation over the layout tree of an editing session. Also, functions are
// exported for using the visitors through the command line.
package visitors

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// Stdout is where visitors created from the command line write to.
var Stdout io.Writer = os.Stdout

var visitorRegistry = map[string]visitorEntry{}

type visitorEntry struct {
	numArgs       int
	help          string
	createVisitor func(*engine.Engine, []string) (layout.Visitor, error)
}

const (
	helpMessage = "Usage: ffsdump FILE [COMMAND [ARGS]]..."
)

// RegisterCLI registers a function `createVisitor` to be called when parsing
// the arguments with `ParseCLI`. For a Visitor to be accessible from the
// command line, it should have an init function which registers a
// `createVisitor` function here. Visitors that edit the image get the
// session they run in.
func RegisterCLI(name string, help string, numArgs int, createVisitor func(*engine.Engine, []string) (layout.Visitor, error)) {
	if _, ok := visitorRegistry[name]; ok {
		panic(fmt.Sprintf("two visitors registered the same name: '%s'", name))
	}
	visitorRegistry[name] = visitorEntry{
		numArgs:       numArgs,
		createVisitor: createVisitor,
		help:          help,
	}
}

// ParseCLI constructs a list of visitors from the given CLI argument list.
func ParseCLI(e *engine.Engine, args []string) ([]layout.Visitor, error) {
	visitors := []layout.Visitor{}
	for len(args) > 0 {
		cmd := args[0]
		args = args[1:]
		o, ok := visitorRegistry[cmd]
		if !ok {
			return []layout.Visitor{}, fmt.Errorf("could not find command '%s'\n%s", cmd, helpMessage)
		}
		if o.numArgs > len(args) {
			return []layout.Visitor{}, fmt.Errorf("too few arguments for command '%s', got %d, expected %d.\nSynopsis: %s",
				cmd, len(args), o.numArgs, o.help)
		}
		visitor, err := o.createVisitor(e, args[:o.numArgs])
		if err != nil {
			return []layout.Visitor{}, err
		}
		visitors = append(visitors, visitor)
		args = args[o.numArgs:]
	}
	return visitors, nil
}

// ExecuteCLI applies each Visitor over the session root in sequence. The
// root is looked up again for every visitor since edits may replace it.
func ExecuteCLI(e *engine.Engine, v []layout.Visitor) error {
	for i := range v {
		if err := v[i].Run(e.Model().Root()); err != nil {
			return err
		}
	}
	return nil
}

// ListCLI prints out the help entries in the visitor struct
// as a newline-separated string in the form:
//
//	name: help
func ListCLI() string {
	var s string
	names := []string{}
	for n := range visitorRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		s += fmt.Sprintf("  %-22s: %s\n", n, visitorRegistry[n].help)
	}
	return s
}
