// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"os"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// Save outputs the reconstructed image to a file.
type Save struct {
	Session *engine.Engine
	DirPath string
}

// Run just applies the visitor.
func (v *Save) Run(n *layout.Node) error {
	return n.Apply(v)
}

// Visit writes the whole image, whatever node it is applied to.
func (v *Save) Visit(*layout.Node) error {
	b, err := v.Session.ReconstructImage()
	if err != nil {
		return err
	}
	return os.WriteFile(v.DirPath, b, 0666)
}

func init() {
	RegisterCLI("save", "write the reconstructed image to a file", 1, func(e *engine.Engine, args []string) (layout.Visitor, error) {
		return &Save{
			Session: e,
			DirPath: args[0],
		}, nil
	})
}
