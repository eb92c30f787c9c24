// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// Repack recompresses the compressed sections found below the matched
// nodes with another algorithm.
type Repack struct {
	// Input
	Session   *engine.Engine
	Predicate FindPredicate
	Algorithm compression.Algorithm

	// Output
	// Sections that were recompressed.
	Repacked []layout.Path
	W        io.Writer
}

// repackable reports whether n is a section whose compression can be
// changed.
func repackable(n *layout.Node) bool {
	if n.Kind != layout.KindSection || !n.HasDecodedStream() {
		return false
	}
	switch uefi.SectionType(n.Subtype) {
	case uefi.SectionTypeCompression:
		return true
	case uefi.SectionTypeGUIDDefined:
		_, ok := compression.AlgorithmFromGUID(n.GUID)
		return ok
	}
	return false
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Repack) Run(n *layout.Node) error {
	find := Find{Predicate: v.Predicate}
	if err := find.Run(n); err != nil {
		return err
	}
	if len(find.Matches) == 0 {
		return fmt.Errorf("no matches found")
	}
	sections := Find{Predicate: repackable}
	seen := map[*layout.Node]bool{}
	var targets []*layout.Node
	for _, m := range find.Matches {
		if err := sections.Run(m); err != nil {
			return err
		}
		for _, s := range sections.Matches {
			if !seen[s] {
				seen[s] = true
				targets = append(targets, s)
			}
		}
	}

	v.Repacked = nil
	// Innermost sections first, their size feeds the outer ones.
	for i := len(targets) - 1; i >= 0; i-- {
		if err := targets[i].Apply(v); err != nil {
			return err
		}
	}
	return nil
}

// Visit recompresses a single section.
func (v *Repack) Visit(n *layout.Node) error {
	p := n.Path()
	if n.Attributes.Compression == v.Algorithm {
		return nil
	}
	if err := v.Session.ChangeCompression(p, v.Algorithm); err != nil {
		return err
	}
	v.Repacked = append(v.Repacked, p)
	if v.W != nil {
		fmt.Fprintf(v.W, "Repack: %v now %v\n", p, v.Algorithm)
	}
	return nil
}

func init() {
	RegisterCLI("repack", "recompress the sections of a file or volume. Usage: repack (FV_or_File_GUID_or_name|/node/path) ALGORITHM", 2, func(e *engine.Engine, args []string) (layout.Visitor, error) {
		pred, err := FindTargetPredicate(args[0])
		if err != nil {
			return nil, err
		}
		alg, err := compression.ParseAlgorithm(args[1])
		if err != nil {
			return nil, err
		}
		return &Repack{
			Session:   e,
			Predicate: pred,
			Algorithm: alg,
			W:         Stdout,
		}, nil
	})
}
