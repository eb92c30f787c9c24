// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// FVBlockSize is the block size of volumes created by CreateFV.
const FVBlockSize = 0x1000

// CreateFV adds an empty FFS2 volume at the end of the BIOS region (or of
// a bare image), taking its space from the erased padding there.
type CreateFV struct {
	Session *engine.Engine
	Size    uint64

	// Output
	Created layout.Path
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *CreateFV) Run(n *layout.Node) error {
	target := n
	if bios, err := FindExactlyOne(n, FindKindPredicate(layout.KindBiosRegion)); err == nil {
		target = bios
	}
	return target.Apply(v)
}

// Visit appends the volume to n.
func (v *CreateFV) Visit(n *layout.Node) error {
	pol := uefi.ErasePolarityOne
	for _, c := range n.Children {
		if c.Kind == layout.KindVolume {
			pol = c.Attributes.ErasePolarity
			break
		}
	}
	fv, err := EmptyVolume(v.Size, pol)
	if err != nil {
		return err
	}
	v.Created, err = v.Session.Insert(n.Path(), fv, engine.ObjectVolume, engine.InsertAppend, 0)
	if err != nil {
		return fmt.Errorf("cannot create FV of %#x bytes: %w", v.Size, err)
	}
	return nil
}

// EmptyVolume returns an FFS2 volume of size bytes without files.
func EmptyVolume(size uint64, pol uefi.ErasePolarity) ([]byte, error) {
	if size == 0 || size%FVBlockSize != 0 {
		return nil, fmt.Errorf("volume size %#x is not a multiple of the block size %#x", size, FVBlockSize)
	}
	buf := uefi.Erased(size, pol)
	h := uefi.VolumeHeader{
		FirmwareVolumeFixedHeader: uefi.FirmwareVolumeFixedHeader{
			FileSystemGUID: *uefi.FFS2,
			Length:         size,
			Signature:      binary.LittleEndian.Uint32(uefi.FirmwareVolumeSignature),
			Attributes:     0x0004FEFF &^ uefi.FirmwareVolumeAttributeErasePolarity,
			HeaderLen:      uefi.FirmwareVolumeMinSize + 8,
			Revision:       2,
		},
		Blocks: []uefi.Block{{Count: uint32(size / FVBlockSize), Size: FVBlockSize}},
	}
	if pol == uefi.ErasePolarityOne {
		h.Attributes |= uefi.FirmwareVolumeAttributeErasePolarity
	}
	if _, err := h.Write(buf); err != nil {
		return nil, err
	}
	if err := uefi.UpdateVolumeChecksum(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func init() {
	RegisterCLI("create-fv", "creates an empty FV at the end of the BIOS region. Parameters: size", 1, func(e *engine.Engine, args []string) (layout.Visitor, error) {
		size, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return nil, err
		}
		return &CreateFV{
			Session: e,
			Size:    size,
		}, nil
	})
}
