// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// Dump a node found by GUID, name or path.
type Dump struct {
	// Input
	Session   *engine.Engine
	Predicate FindPredicate
	Mode      engine.ExtractMode

	// Output
	// The node is written to this writer.
	W io.Writer
}

// Run just calls the visitor
func (v *Dump) Run(n *layout.Node) error {
	return n.Apply(v)
}

// Visit uses find to dump a node to W.
func (v *Dump) Visit(n *layout.Node) error {
	// First run "find" to generate a list to dump
	find := Find{
		Predicate: v.Predicate,
	}
	if err := find.Run(n); err != nil {
		return err
	}

	// There must only be one match.
	if numMatch := len(find.Matches); numMatch > 1 {
		return fmt.Errorf("more than one match, only one match allowed! got %v", find.Matches)
	} else if numMatch == 0 {
		return errors.New("no matches found")
	}

	b, err := v.Session.Extract(find.Matches[0].Path(), v.Mode)
	if err != nil {
		return err
	}
	_, err = v.W.Write(b)
	return err
}

func init() {
	RegisterCLI("dump", "dump a node as stored. Usage: dump (FV_or_File_GUID_or_name|/node/path) FILE", 2, genDumpCLI(engine.ExtractAsStored))
	RegisterCLI("dump_body", "dump the body of a node, decompressed for compressed sections", 2, genDumpCLI(engine.ExtractBodyOnly))
	RegisterCLI("dump_raw", "dump a node as it was originally parsed", 2, genDumpCLI(engine.ExtractRaw))
}

func genDumpCLI(mode engine.ExtractMode) func(*engine.Engine, []string) (layout.Visitor, error) {
	return func(e *engine.Engine, args []string) (layout.Visitor, error) {
		pred, err := FindTargetPredicate(args[0])
		if err != nil {
			return nil, err
		}

		file, err := os.OpenFile(args[1], os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}

		return &Dump{
			Session:   e,
			Predicate: pred,
			Mode:      mode,
			W:         file,
		}, nil
	}
}
