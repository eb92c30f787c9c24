// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
)

// Remove all nodes matching a predicate. Files inside a volume leave a pad
// file of the same size behind, regions leave erased padding.
type Remove struct {
	// Input
	Session   *engine.Engine
	Predicate FindPredicate
	// RemoveDxes inverts the predicate over the files of the DXE volume:
	// every file not matching it is removed.
	RemoveDxes bool

	// Output
	Matches []*layout.Node
	// logs are written to this writer.
	W io.Writer
}

func (v *Remove) printf(format string, a ...interface{}) {
	if v.W != nil {
		fmt.Fprintf(v.W, format, a...)
	}
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Remove) Run(n *layout.Node) error {
	// First run "find" to generate a list of matches to delete.
	find := Find{
		Predicate: v.Predicate,
	}
	if v.RemoveDxes {
		dxeFV, err := FindDXEFV(n)
		if err != nil {
			return err
		}
		find.Predicate = func(n *layout.Node) bool {
			return n.Kind == layout.KindFile && n.Parent == dxeFV && !v.Predicate(n)
		}
		n = dxeFV
	}
	if err := find.Run(n); err != nil {
		return err
	}
	v.Matches = find.Matches

	// Later nodes first, so the paths of the earlier ones stay put.
	for i := len(v.Matches) - 1; i >= 0; i-- {
		if err := v.Matches[i].Apply(v); err != nil {
			return err
		}
	}
	return nil
}

// Visit removes a single node.
func (v *Remove) Visit(n *layout.Node) error {
	p := n.Path()
	if err := v.Session.Remove(p); err != nil {
		return err
	}
	v.printf("Remove: %v %v\n", p, n.Label())
	return nil
}

// parseBlackList joins the regular expressions of a list file, one per
// line, into one pattern. Blank lines and # comments are skipped.
func parseBlackList(fileName, fileContents string) (string, error) {
	blackList := ""
	for _, line := range strings.Split(fileContents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, err := regexp.Compile(line)
		if err != nil {
			return "", fmt.Errorf("cannot compile regex %q from blacklist file %q: %v", line, fileName, err)
		}
		blackList += "|(" + line + ")"
	}
	if blackList != "" {
		blackList = blackList[1:]
	}
	return blackList, nil
}

func init() {
	RegisterCLI("remove", "remove a file, volume or region and leave its space free", 1, func(e *engine.Engine, args []string) (layout.Visitor, error) {
		pred, err := FindTargetPredicate(args[0])
		if err != nil {
			return nil, err
		}
		return &Remove{
			Session:   e,
			Predicate: pred,
			W:         Stdout,
		}, nil
	})
	RegisterCLI("remove_dxes_except", "remove all files from the DXE volume except those in the specified file", 1, func(e *engine.Engine, args []string) (layout.Visitor, error) {
		fileName := args[0]
		fileContents, err := os.ReadFile(fileName)
		if err != nil {
			return nil, fmt.Errorf("cannot read blacklist file %q: %v", fileName, err)
		}
		blackListRegex, err := parseBlackList(fileName, string(fileContents))
		if err != nil {
			return nil, err
		}
		pred, err := FindFilePredicate(blackListRegex)
		if err != nil {
			return nil, err
		}
		return &Remove{
			Session:    e,
			Predicate:  pred,
			RemoveDxes: true,
			W:          Stdout,
		}, nil
	})
}
