// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"bytes"
	"errors"
	"os"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// ReplacePE32 replaces the PE32 sections of the file matching Predicate
// with NewPE32.
type ReplacePE32 struct {
	// Input
	Session   *engine.Engine
	Predicate FindPredicate
	NewPE32   []byte

	// Output
	Matches []*layout.Node
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *ReplacePE32) Run(n *layout.Node) error {
	// Check that we're actually replacing with a PE32 image
	if !bytes.HasPrefix(v.NewPE32, []byte("MZ")) {
		return errors.New("supplied binary is not a valid pe32 image")
	}

	find := Find{
		Predicate: v.Predicate,
	}
	if err := find.Run(n); err != nil {
		return err
	}

	v.Matches = find.Matches
	if len(find.Matches) == 0 {
		return errors.New("no matches found for replacement")
	}
	if len(find.Matches) > 1 {
		return errors.New("multiple matches found! There can be only one. Use find to list all matches")
	}

	sections := Find{Predicate: FindSectionTypePredicate(uefi.SectionTypePE32)}
	if err := sections.Run(v.Matches[0]); err != nil {
		return err
	}
	for i := len(sections.Matches) - 1; i >= 0; i-- {
		if err := sections.Matches[i].Apply(v); err != nil {
			return err
		}
	}
	return nil
}

// Visit replaces one PE32 section.
func (v *ReplacePE32) Visit(n *layout.Node) error {
	size := uint64(uefi.SectionHeaderLength + len(v.NewPE32))
	ext := uefi.NeedsExtendedSize(size)
	if ext {
		size = uint64(uefi.SectionExtHeaderLength + len(v.NewPE32))
	}
	sec := make([]byte, size)
	hdrLen, err := uefi.WriteSectionHeader(sec, uefi.SectionTypePE32, size, ext)
	if err != nil {
		return err
	}
	copy(sec[hdrLen:], v.NewPE32)
	return v.Session.Replace(n.Path(), sec)
}

func init() {
	RegisterCLI("replace_pe32", "replace a pe32 given a GUID and new file", 2, func(e *engine.Engine, args []string) (layout.Visitor, error) {
		pred, err := FindFilePredicate(args[0])
		if err != nil {
			return nil, err
		}

		newPE32, err := os.ReadFile(args[1])
		if err != nil {
			return nil, err
		}

		return &ReplacePE32{
			Session:   e,
			Predicate: pred,
			NewPE32:   newPE32,
		}, nil
	})
}
