// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// Assemble reserializes every node below the one it is run on from its
// children, instead of only the edited ones. Headers, checksums, padding
// and volume sizes are all recomputed; clean images come out unchanged
// unless they carried stale checksums.
type Assemble struct {
	Session *engine.Engine

	marked []*layout.Node
}

// Run marks the subtree, rebuilds it and undoes the marks on failure.
func (v *Assemble) Run(n *layout.Node) error {
	v.marked = v.marked[:0]
	if err := n.Apply(v); err != nil {
		return err
	}
	if err := v.Session.Rebuild(n.Path()); err != nil {
		for _, m := range v.marked {
			m.Dirty = false
		}
		return err
	}
	return nil
}

// Visit marks n and its descendants dirty.
func (v *Assemble) Visit(n *layout.Node) error {
	if !n.Dirty {
		n.Dirty = true
		v.marked = append(v.marked, n)
	}
	return n.ApplyChildren(v)
}

func init() {
	RegisterCLI("assemble", "reserialize the whole image from its leaves", 0, func(e *engine.Engine, _ []string) (layout.Visitor, error) {
		return &Assemble{Session: e}, nil
	})
}
