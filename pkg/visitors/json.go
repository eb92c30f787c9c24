// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/guid"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

var zeroGUID guid.GUID

// NodeJSON is the JSON form of a node. Nodes point back at their parent,
// so they are not marshalled directly.
type NodeJSON struct {
	Path         string
	Kind         string
	Type         string `json:",omitempty"`
	GUID         string `json:",omitempty"`
	Name         string `json:",omitempty"`
	Version      string `json:",omitempty"`
	Offset       uint64
	Size         uint64
	InCompressed bool   `json:",omitempty"`
	Compression  string `json:",omitempty"`
	Opaque       bool   `json:",omitempty"`
	Empty        bool   `json:",omitempty"`
	Checksums    string `json:",omitempty"`

	Children []*NodeJSON `json:",omitempty"`
}

// NewNodeJSON describes n, and its descendants when recursive is set.
func NewNodeJSON(n *layout.Node, recursive bool) *NodeJSON {
	a := n.Attributes
	j := &NodeJSON{
		Path:         n.Path().String(),
		Kind:         n.Kind.String(),
		Type:         typeName(n),
		Name:         a.Name,
		Version:      a.Version,
		Offset:       n.Offset,
		Size:         n.Size(),
		InCompressed: n.InCompressed,
		Opaque:       a.Opaque,
		Empty:        a.Empty,
	}
	switch n.Kind {
	case layout.KindVolume, layout.KindFile, layout.KindPadFile:
		j.GUID = n.GUID.String()
		if !a.HeaderChecksumValid || (n.Kind != layout.KindVolume && !a.DataChecksumValid) {
			j.Checksums = "invalid"
		}
	case layout.KindSection:
		if n.GUID != zeroGUID {
			j.GUID = n.GUID.String()
		}
		if a.Compression != compression.AlgorithmNone || n.HasDecodedStream() {
			j.Compression = a.Compression.String()
		}
	}
	if recursive {
		for _, c := range n.Children {
			j.Children = append(j.Children, NewNodeJSON(c, true))
		}
	}
	return j
}

// typeName is the file type, section type or file system of n.
func typeName(n *layout.Node) string {
	switch n.Kind {
	case layout.KindFile, layout.KindPadFile:
		return uefi.FVFileType(n.Subtype).String()
	case layout.KindSection:
		return uefi.SectionType(n.Subtype).String()
	case layout.KindVolume:
		return n.Label()
	case layout.KindPadding:
		if n.Subtype != 0 {
			return uefi.FlashRegionType(n.Subtype - 1).String()
		}
	}
	return ""
}

// JSON prints any node and its descendants as JSON.
type JSON struct {
	W io.Writer
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *JSON) Run(n *layout.Node) error {
	return n.Apply(v)
}

// Visit applies the JSON visitor to any node.
func (v *JSON) Visit(n *layout.Node) error {
	b, err := json.MarshalIndent(NewNodeJSON(n, true), "", "\t")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(v.W, string(b))
	return err
}

func init() {
	RegisterCLI("json", "produce JSON for the full firmware volume", 0, func(*engine.Engine, []string) (layout.Visitor, error) {
		return &JSON{W: Stdout}, nil
	})
}
