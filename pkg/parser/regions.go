// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parser

import (
	"sort"

	fbytes "github.com/linuxboot/ffsengine/pkg/bytes"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// DescriptorSubtype is the Subtype of the descriptor region node; the
// other regions carry their FLREG number.
const DescriptorSubtype = 0

// RegionSubtype returns the FLREG number regions of type t are stored with.
func RegionSubtype(t uefi.FlashRegionType) uint8 {
	return uint8(t) + 1
}

var regionKinds = map[uefi.FlashRegionType]layout.Kind{
	uefi.RegionTypeBIOS: layout.KindBiosRegion,
	uefi.RegionTypeME:   layout.KindMeRegion,
	uefi.RegionTypeGBE:  layout.KindGbeRegion,
	uefi.RegionTypePD:   layout.KindPdrRegion,
}

func (p *parser) isDescriptorImage(data []byte) bool {
	if len(data) < uefi.FlashDescriptorLength {
		return false
	}
	_, err := uefi.FindSignature(data)
	return err == nil
}

type region struct {
	subtype uint8
	typ     uefi.FlashRegionType
	rng     fbytes.Range
}

// parseIntelImage splits a descriptor image into its regions. Regions are
// laid out by offset; gaps between them become padding.
func (p *parser) parseIntelImage(root *layout.Node, data []byte) {
	fd, err := uefi.ParseFlashDescriptor(data)
	if err != nil {
		p.diag.Errorf(layout.Path{}, err, "flash descriptor: %v", err)
		p.addPadding(root, 0, data, uefi.ErasePolarityOne)
		return
	}
	imageLen := uint64(len(data))

	regions := []region{{
		subtype: DescriptorSubtype,
		rng:     fbytes.Range{Offset: 0, Length: uefi.FlashDescriptorLength},
	}}
	for _, r := range fd.DeclaredRegions() {
		rng := r.Range()
		if rng.End() > imageLen {
			p.diag.Errorf(layout.Path{}, ErrStructuralTruncation,
				"%v ends past the image end %#x, ignored", r, imageLen)
			continue
		}
		regions = append(regions, region{subtype: RegionSubtype(r.Type), typ: r.Type, rng: rng})
	}

	var ranges fbytes.Ranges
	for _, r := range regions {
		ranges = append(ranges, r.rng)
	}
	for _, pair := range ranges.Intersections() {
		a, b := regions[pair[0]], regions[pair[1]]
		p.diag.Warnf(layout.Path{}, nil, "%s %v overlaps %s %v, %s wins on reconstruction",
			regionName(a), a.rng, regionName(b), b.rng, regionName(later(a, b)))
	}

	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].rng.Offset < regions[j].rng.Offset
	})
	gaps := fbytes.Range{Offset: 0, Length: imageLen}.Exclude(ranges...)

	for len(regions) > 0 || len(gaps) > 0 {
		if len(gaps) > 0 && (len(regions) == 0 || gaps[0].Offset < regions[0].rng.Offset) {
			g := gaps[0]
			gaps = gaps[1:]
			if p.addPadding(root, g.Offset, data[g.Offset:g.End():g.End()], uefi.ErasePolarityOne) == nil {
				return
			}
			continue
		}
		r := regions[0]
		regions = regions[1:]
		if !p.parseRegion(root, data, r) {
			return
		}
	}
}

func regionName(r region) string {
	if r.subtype == DescriptorSubtype {
		return "Descriptor"
	}
	return r.typ.String()
}

func later(a, b region) region {
	if b.subtype > a.subtype {
		return b
	}
	return a
}

func (p *parser) parseRegion(root *layout.Node, data []byte, r region) bool {
	raw := data[r.rng.Offset:r.rng.End():r.rng.End()]
	kind, ok := regionKinds[r.typ]
	switch {
	case r.subtype == DescriptorSubtype:
		kind = layout.KindFlashDescriptorRegion
	case !ok:
		// Regions without a node kind of their own are kept as
		// padding tagged with the region index.
		kind = layout.KindPadding
	}
	n := newNode(kind, r.rng.Offset, raw, 0)
	n.Subtype = r.subtype
	n.Attributes.ErasePolarity = uefi.ErasePolarityOne
	if kind == layout.KindPadding {
		n.Attributes.Name = r.typ.String()
		n.Attributes.Empty = uefi.IsErased(raw, uefi.ErasePolarityOne)
	}
	if !p.attach(root, n) {
		return false
	}
	switch kind {
	case layout.KindBiosRegion:
		p.parseVolumeChain(n, raw, uefi.ErasePolarityOne)
	case layout.KindMeRegion:
		if uefi.IsErased(raw, uefi.ErasePolarityOne) {
			p.diag.Infof(n.Path(), "ME region is empty")
		}
		n.Attributes.Opaque = true
	default:
		n.Attributes.Opaque = true
	}
	return true
}
