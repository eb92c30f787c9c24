// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// Comment holds the io.Writer and args for a comment
type Comment struct {
	W io.Writer
	s string
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Comment) Run(*layout.Node) error {
	_, err := fmt.Fprintf(v.W, "%s\n", v.s)
	return err
}

// Visit applies the Comment visitor to any node.
func (v *Comment) Visit(*layout.Node) error {
	return nil
}

func init() {
	RegisterCLI("comment", "Print one arg", 1, func(_ *engine.Engine, args []string) (layout.Visitor, error) {
		return &Comment{W: Stdout, s: args[0]}, nil
	})
}
