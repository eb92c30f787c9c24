// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// Flatten places all nodes into a single slice without their children.
// Each entry contains the index of its parent (the root node's parent is
// itself). This format is suitable for insertion into a database.
type Flatten struct {
	// Optionally write result as JSON.
	W io.Writer

	// Outputted flattened tree.
	List []FlattenedNode

	parent int
}

// FlattenedNode appears in the Flatten.List, contains the index of the
// parent and has no children.
type FlattenedNode struct {
	Parent int
	Value  *NodeJSON
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Flatten) Run(n *layout.Node) error {
	v.List, v.parent = nil, 0
	if err := n.Apply(v); err != nil {
		return err
	}

	// Optionally print as JSON
	if v.W != nil {
		b, err := json.MarshalIndent(v.List, "", "\t")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(v.W, string(b))
		return err
	}
	return nil
}

// Visit applies the Flatten visitor to any node.
func (v *Flatten) Visit(n *layout.Node) error {
	parent := v.parent
	v.parent = len(v.List)
	v.List = append(v.List, FlattenedNode{
		Parent: parent,
		Value:  NewNodeJSON(n, false),
	})
	if err := n.ApplyChildren(v); err != nil {
		return err
	}
	v.parent = parent
	return nil
}

func init() {
	RegisterCLI("flatten", "prints a JSON list of nodes", 0, func(*engine.Engine, []string) (layout.Visitor, error) {
		return &Flatten{
			W: Stdout,
		}, nil
	})
}
