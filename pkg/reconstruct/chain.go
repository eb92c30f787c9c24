// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reconstruct

import (
	"fmt"
	"sort"

	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

func hasDescriptor(root *layout.Node) bool {
	for _, c := range root.Children {
		if c.Kind == layout.KindFlashDescriptorRegion {
			return true
		}
	}
	return false
}

func hasVolumes(children []*built) bool {
	for _, c := range children {
		if c.kind() == layout.KindVolume {
			return true
		}
	}
	return false
}

// buildRoot lays out the image. Descriptor images keep their size and
// every region its offset; regions are written in FLREG order, so where
// they overlap the later one wins. Other images are a plain concatenation.
func (r *builder) buildRoot(n *layout.Node) (*built, error) {
	if !hasDescriptor(n) {
		return r.buildChain(n, false)
	}
	children, err := r.buildChildren(n)
	if err != nil {
		return nil, err
	}
	size := uint64(len(n.Body))
	out := uefi.Erased(size, uefi.ErasePolarityOne)
	order := append([]*built(nil), children...)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].node.Subtype < order[j].node.Subtype
	})
	for _, c := range order {
		if end := c.pos + c.size(); end > size {
			return nil, fmt.Errorf("%w: %v at %#x ends at %#x, past the image end %#x",
				ErrCapacityExceeded, c.kind(), c.pos, end, size)
		}
		copy(out[c.pos:], c.header)
		copy(out[c.pos+uint64(len(c.header)):], c.body)
	}
	b := rebuildOf(n)
	b.header, b.body = nil, out
	b.children = children
	return b, nil
}

// buildChain concatenates the children of a BIOS region or a bare image.
// Erased padding absorbs growth of the nodes in front of it. A strict
// chain must keep its size.
func (r *builder) buildChain(n *layout.Node, strict bool) (*built, error) {
	children, err := r.buildChildren(n)
	if err != nil {
		return nil, err
	}
	capacity := uint64(len(n.Body))
	children, err = layoutChain(children, capacity, strict, strict || hasVolumes(children))
	if err != nil {
		return nil, err
	}
	body := make([]byte, 0, capacity)
	for _, c := range children {
		body = append(body, c.header...)
		body = append(body, c.body...)
	}
	b := rebuildOf(n)
	b.header, b.body = nil, body
	b.children = children
	return b, nil
}

// layoutChain places children back to back in capacity bytes. In a filled
// chain a node that grew takes the room from the erased padding behind it
// and a node that shrank leaves erased padding behind it, so the nodes
// after them keep their offsets. Growth left over, and any growth in an
// unfilled chain, comes out of the padding closest to the end.
func layoutChain(children []*built, capacity uint64, strict, fill bool) ([]*built, error) {
	var (
		out   []*built
		grown uint64
		short uint64
	)
	for _, c := range children {
		if c.emptyPadding() {
			size := c.size() + short
			take := grown
			if take > size {
				take = size
			}
			grown -= take
			short = 0
			if size-take != c.size() {
				c = resizePadding(c, size-take)
			}
			out = append(out, c)
			continue
		}
		if short > 0 {
			out = append(out, clean(PaddingNode(short, c.attrs.ErasePolarity)))
			short = 0
		}
		out = append(out, c)
		if !c.rebuilt || !fill {
			continue
		}
		switch old, size := c.node.Size(), c.size(); {
		case size > old:
			grown += size - old
		case size < old:
			shrunk := old - size
			if shrunk <= grown {
				grown -= shrunk
			} else {
				short += shrunk - grown
				grown = 0
			}
		}
	}
	if short > 0 {
		pol := uefi.ErasePolarityOne
		if len(out) > 0 {
			pol = out[len(out)-1].attrs.ErasePolarity
		}
		out = append(out, clean(PaddingNode(short, pol)))
	}
	children = dropEmpty(out)

	var total uint64
	for _, c := range children {
		total += c.size()
	}
	if total > capacity {
		excess := total - capacity
		for i := len(children) - 1; i >= 0 && excess > 0; i-- {
			c := children[i]
			if !c.emptyPadding() {
				continue
			}
			take := c.size()
			if take > excess {
				take = excess
			}
			children[i] = resizePadding(c, c.size()-take)
			excess -= take
			total -= take
		}
		children = dropEmpty(children)
		if excess > 0 && strict {
			return nil, fmt.Errorf("%w: content needs %#x bytes more than the %#x available",
				ErrCapacityExceeded, excess, capacity)
		}
	}
	if total < capacity && fill {
		short := capacity - total
		if last := len(children) - 1; last >= 0 && children[last].emptyPadding() {
			children[last] = resizePadding(children[last], children[last].size()+short)
		} else {
			pol := uefi.ErasePolarityOne
			if last >= 0 {
				pol = children[last].attrs.ErasePolarity
			}
			children = append(children, clean(PaddingNode(short, pol)))
		}
	}
	var pos uint64
	for _, c := range children {
		c.pos = pos
		pos += c.size()
	}
	return children, nil
}

func dropEmpty(children []*built) []*built {
	out := children[:0]
	for _, c := range children {
		if c.size() != 0 || !c.emptyPadding() {
			out = append(out, c)
		}
	}
	return out
}

func resizePadding(c *built, size uint64) *built {
	b := rebuildOf(c.node)
	b.header = nil
	b.body = uefi.Erased(size, c.attrs.ErasePolarity)
	return b
}

// PaddingNode returns an erased padding node of size bytes.
func PaddingNode(size uint64, pol uefi.ErasePolarity) *layout.Node {
	body := uefi.Erased(size, pol)
	return &layout.Node{
		Kind:     layout.KindPadding,
		Body:     body,
		Original: body,
		Attributes: layout.Attributes{
			ErasePolarity: pol,
			Empty:         true,
			Opaque:        true,
		},
	}
}
