// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import "fmt"

// Kind is the closed set of node kinds.
type Kind int

// Node kinds. Padding covers bytes without structure of their own: gaps
// between regions or volumes, free space at the end of a volume, trailing
// bytes of a section stream and descriptor regions nobody parses.
const (
	KindRoot Kind = iota
	KindFlashDescriptorRegion
	KindGbeRegion
	KindMeRegion
	KindBiosRegion
	KindPdrRegion
	KindVolume
	KindFile
	KindSection
	KindPadFile
	KindPadding
)

var kindNames = [...]string{
	KindRoot:                  "Root",
	KindFlashDescriptorRegion: "FlashDescriptorRegion",
	KindGbeRegion:             "GbeRegion",
	KindMeRegion:              "MeRegion",
	KindBiosRegion:            "BiosRegion",
	KindPdrRegion:             "PdrRegion",
	KindVolume:                "Volume",
	KindFile:                  "File",
	KindSection:               "Section",
	KindPadFile:               "PadFile",
	KindPadding:               "Padding",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsRegion reports whether nodes of this kind are flash descriptor regions.
func (k Kind) IsRegion() bool {
	switch k {
	case KindFlashDescriptorRegion, KindGbeRegion, KindMeRegion, KindBiosRegion, KindPdrRegion:
		return true
	}
	return false
}

// IsFile reports whether the node is stored with an FFS file header.
func (k Kind) IsFile() bool {
	return k == KindFile || k == KindPadFile
}
