// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/reconstruct"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// Remove takes the node at p out of the image. Inside a volume the space
// is kept as a pad file of the same size; in a BIOS region or a bare image
// it becomes erased padding. Files and sections shrink around a removed
// section.
func (e *Engine) Remove(p layout.Path) error {
	n, err := e.model.Get(p)
	if err != nil {
		return err
	}
	parent := n.Parent
	if parent == nil {
		return fmt.Errorf("%w: the root cannot be removed", ErrInvalidTarget)
	}

	switch parent.Kind {
	case layout.KindVolume:
		if n.Kind == layout.KindPadding {
			// Free space is laid out again by the volume.
			return e.detach(p, n)
		}
		pad, err := reconstruct.PadFileNode(n.Size(), parent.Attributes.Revision, parent.Attributes.ErasePolarity)
		if err != nil {
			return fmt.Errorf("remove %v: %w", p, err)
		}
		return e.substitute(p, n, pad)
	case layout.KindBiosRegion, layout.KindRoot:
		if n.Kind == layout.KindFlashDescriptorRegion {
			return fmt.Errorf("%w: the flash descriptor cannot be removed", ErrInvalidTarget)
		}
		pol := uefi.ErasePolarityOne
		if n.Kind == layout.KindVolume || n.Kind == layout.KindPadding {
			pol = n.Attributes.ErasePolarity
		}
		return e.substitute(p, n, reconstruct.PaddingNode(n.Size(), pol))
	case layout.KindFile, layout.KindSection:
		return e.detach(p, n)
	}
	return fmt.Errorf("%w: %v cannot be removed from %v", ErrInvalidTarget, n.Kind, parent.Kind)
}

// substitute puts filler where n is and rebuilds.
func (e *Engine) substitute(p layout.Path, n, filler *layout.Node) error {
	filler.Pos = n.Pos
	if err := e.model.ReplaceSubtree(p, filler); err != nil {
		return err
	}
	err := e.rebuildOrUndo(filler, func() {
		_ = e.model.ReplaceSubtree(p, n)
	})
	if err != nil {
		return fmt.Errorf("remove %v: %w", p, err)
	}
	e.logf("removed %v %v, %#x bytes left as %v", n.Kind, n.Label(), filler.Size(), filler.Kind)
	return nil
}

// detach drops n and rebuilds its former parent.
func (e *Engine) detach(p layout.Path, n *layout.Node) error {
	parent := n.Parent
	if _, err := e.model.RemoveSubtree(p); err != nil {
		return err
	}
	err := e.rebuildOrUndo(parent, func() {
		_ = e.model.InsertSubtree(p.Parent(), p.Last(), n)
	})
	if err != nil {
		return fmt.Errorf("remove %v: %w", p, err)
	}
	e.logf("removed %v %v", n.Kind, n.Label())
	return nil
}
