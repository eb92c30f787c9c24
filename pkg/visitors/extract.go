// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// Extract writes every node below the one it is run on into a directory
// tree mirroring the node paths: each node directory holds node.bin (the
// node as stored) and, for sections with a decoded stream, body.bin. A
// summary.json describing the tree is written at the top.
type Extract struct {
	Session  *engine.Engine
	BasePath string
	// Force extraction into a non empty directory.
	Force bool
	// Remove the directory before extracting.
	Remove bool

	// Count of files written.
	Written int
}

// extractBinary writes buf to name inside dir, creating dir as needed.
func (v *Extract) extractBinary(dir string, buf []byte, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf, 0666); err != nil {
		return err
	}
	v.Written++
	return nil
}

func (v *Extract) dirOf(p layout.Path) string {
	elems := []string{v.BasePath}
	for _, i := range p {
		elems = append(elems, strconv.Itoa(i))
	}
	return filepath.Join(elems...)
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Extract) Run(n *layout.Node) error {
	// Optionally remove directory if it already exists.
	if v.Remove {
		if err := os.RemoveAll(v.BasePath); err != nil {
			return err
		}
	}

	if !v.Force {
		// Check that directory does not exist or is empty.
		files, err := os.ReadDir(v.BasePath)
		if err == nil {
			if len(files) != 0 {
				return errors.New("existing directory not empty, use --force to override")
			}
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	if err := os.MkdirAll(v.BasePath, 0755); err != nil {
		return err
	}

	v.Written = 0
	if err := n.Apply(v); err != nil {
		return err
	}

	// Write the summary.
	b, err := json.MarshalIndent(NewNodeJSON(n, true), "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(v.BasePath, "summary.json"), b, 0666)
}

// Visit applies the Extract visitor to any node.
func (v *Extract) Visit(n *layout.Node) error {
	p := n.Path()
	dir := v.dirOf(p)
	b, err := v.Session.Extract(p, engine.ExtractAsStored)
	if err != nil {
		return err
	}
	if err := v.extractBinary(dir, b, "node.bin"); err != nil {
		return err
	}
	if n.HasDecodedStream() {
		body, err := v.Session.Extract(p, engine.ExtractBodyOnly)
		if err != nil {
			return err
		}
		if err := v.extractBinary(dir, body, "body.bin"); err != nil {
			return err
		}
	}
	return n.ApplyChildren(v)
}

func init() {
	RegisterCLI("extract", "extract the files to a directory", 1, func(e *engine.Engine, args []string) (layout.Visitor, error) {
		return &Extract{
			Session:  e,
			BasePath: args[0],
		}, nil
	})
	RegisterCLI("extract_force", "extract the files to a non empty directory", 1, func(e *engine.Engine, args []string) (layout.Visitor, error) {
		return &Extract{
			Session:  e,
			BasePath: args[0],
			Force:    true,
		}, nil
	})
}
