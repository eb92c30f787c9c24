// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// FindPredicate is used to filter matches in the Find visitor.
type FindPredicate = func(n *layout.Node) bool

// Find nodes matching a predicate.
type Find struct {
	// Input
	// Only when this functions returns true will the node appear in the
	// `Matches` slice.
	Predicate FindPredicate

	// Output
	// Matches are in byte order, parents before their children.
	Matches []*layout.Node

	// JSON is written to this writer.
	W io.Writer
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Find) Run(n *layout.Node) error {
	v.Matches = nil
	if err := n.Apply(v); err != nil {
		return err
	}
	if v.W != nil {
		out := make([]*NodeJSON, len(v.Matches))
		for i, m := range v.Matches {
			out[i] = NewNodeJSON(m, false)
		}
		b, err := json.MarshalIndent(out, "", "\t")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(v.W, string(b))
		return err
	}
	return nil
}

// Visit applies the Find visitor to any node.
func (v *Find) Visit(n *layout.Node) error {
	if v.Predicate(n) {
		v.Matches = append(v.Matches, n)
	}
	return n.ApplyChildren(v)
}

// FindFileGUIDPredicate is a generic predicate for searching file GUIDs only.
func FindFileGUIDPredicate(r guid.GUID) FindPredicate {
	return func(n *layout.Node) bool {
		return n.Kind == layout.KindFile && n.GUID == r
	}
}

// FindFileTypePredicate is a generic predicate for searching file types only.
func FindFileTypePredicate(t uefi.FVFileType) FindPredicate {
	return func(n *layout.Node) bool {
		return n.Kind.IsFile() && uefi.FVFileType(n.Subtype) == t
	}
}

// FindKindPredicate matches every node of kind k.
func FindKindPredicate(k layout.Kind) FindPredicate {
	return func(n *layout.Node) bool {
		return n.Kind == k
	}
}

// FindFilePredicate is a generic predicate for searching files by GUID or
// by the name of their user interface section.
func FindFilePredicate(r string) (FindPredicate, error) {
	searchRE, err := regexp.Compile("^(" + r + ")$")
	if err != nil {
		return nil, err
	}
	ciRE, err := regexp.Compile("^(?i)(" + r + ")$")
	if err != nil {
		return nil, err
	}
	return func(n *layout.Node) bool {
		if n.Kind != layout.KindFile {
			return false
		}
		return ciRE.MatchString(n.GUID.String()) ||
			(n.Attributes.Name != "" && searchRE.MatchString(n.Attributes.Name))
	}, nil
}

// FindFileFVPredicate is a generic predicate for searching volumes by name
// or file system GUID, and files like FindFilePredicate.
func FindFileFVPredicate(r string) (FindPredicate, error) {
	filePred, err := FindFilePredicate(r)
	if err != nil {
		return nil, err
	}
	ciRE, err := regexp.Compile("^(?i)(" + r + ")$")
	if err != nil {
		return nil, err
	}
	return func(n *layout.Node) bool {
		if n.Kind == layout.KindVolume {
			return ciRE.MatchString(n.GUID.String()) || ciRE.MatchString(n.Label())
		}
		return filePred(n)
	}, nil
}

// FindPathPredicate matches the node at exactly p.
func FindPathPredicate(p layout.Path) FindPredicate {
	return func(n *layout.Node) bool {
		return n.Path().Equal(p)
	}
}

// FindSectionTypePredicate matches sections of type t.
func FindSectionTypePredicate(t uefi.SectionType) FindPredicate {
	return func(n *layout.Node) bool {
		return n.Kind == layout.KindSection && uefi.SectionType(n.Subtype) == t
	}
}

// FindNotPredicate is a generic predicate which takes the logical NOT of an existing predicate.
func FindNotPredicate(predicate FindPredicate) FindPredicate {
	return func(n *layout.Node) bool {
		return !predicate(n)
	}
}

// FindAndPredicate is a generic predicate which takes the logical AND of two existing predicates.
func FindAndPredicate(predicate1 FindPredicate, predicate2 FindPredicate) FindPredicate {
	return func(n *layout.Node) bool {
		return predicate1(n) && predicate2(n)
	}
}

// FindTargetPredicate reads a command line target: a node path such as
// "/0/2/1" when it starts with a slash, a file or volume pattern otherwise.
func FindTargetPredicate(s string) (FindPredicate, error) {
	if len(s) > 0 && s[0] == '/' {
		p, err := layout.ParsePath(s)
		if err != nil {
			return nil, err
		}
		return FindPathPredicate(p), nil
	}
	return FindFileFVPredicate(s)
}

// FindExactlyOne does a find using a supplied predicate and errors if there's more than one.
func FindExactlyOne(n *layout.Node, pred FindPredicate) (*layout.Node, error) {
	find := &Find{
		Predicate: pred,
	}
	if err := find.Run(n); err != nil {
		return nil, err
	}
	if mlen := len(find.Matches); mlen != 1 {
		return nil, fmt.Errorf("expected exactly one match, got %v, matches were: %v", mlen, find.Matches)
	}
	return find.Matches[0], nil
}

// FindEnclosingFV finds the volume that contains a file.
func FindEnclosingFV(file *layout.Node) (*layout.Node, error) {
	fv := file.FindParentOfKind(layout.KindVolume)
	if fv == nil {
		return nil, fmt.Errorf("%v is not inside a firmware volume", file)
	}
	return fv, nil
}

// FindDXEFV is a helper function to quickly retrieve the firmware volume that contains the DxeCore.
func FindDXEFV(n *layout.Node) (*layout.Node, error) {
	// The DXE volume is the one holding the DXE core.
	dxeCore, err := FindExactlyOne(n, FindFileTypePredicate(uefi.FVFileTypeDXECore))
	if err != nil {
		return nil, fmt.Errorf("unable to find DXE Core, got: %v", err)
	}
	return FindEnclosingFV(dxeCore)
}

func init() {
	RegisterCLI("find", "find a file by GUID or Name", 1, func(_ *engine.Engine, args []string) (layout.Visitor, error) {
		pred, err := FindFilePredicate(args[0])
		if err != nil {
			return nil, err
		}
		return &Find{
			Predicate: pred,
			W:         Stdout,
		}, nil
	})
	RegisterCLI("find_fv", "find a volume by GUID or name, or a file by GUID or Name", 1, func(_ *engine.Engine, args []string) (layout.Visitor, error) {
		pred, err := FindFileFVPredicate(args[0])
		if err != nil {
			return nil, err
		}
		return &Find{
			Predicate: pred,
			W:         Stdout,
		}, nil
	})
}
