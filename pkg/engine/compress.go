// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/parser"
	"github.com/linuxboot/ffsengine/pkg/uefi"
)

// ChangeCompression recompresses the section at p with alg and rebuilds.
// Compression sections take None, EFI, Tiano and LZMA; GUID-defined
// sections take every algorithm with a section GUID, which is rewritten.
// Anything else, including sections that could not be decoded, fails with
// ErrNotCompressible.
func (e *Engine) ChangeCompression(p layout.Path, alg compression.Algorithm) error {
	n, err := e.model.Get(p)
	if err != nil {
		return err
	}
	if n.Kind != layout.KindSection || !n.HasDecodedStream() {
		return fmt.Errorf("%w: %v %v", ErrNotCompressible, n.Kind, p)
	}
	switch uefi.SectionType(n.Subtype) {
	case uefi.SectionTypeCompression:
		if _, ok := parser.CompressionType(alg); !ok {
			return fmt.Errorf("%w: %v in a compression section", compression.ErrUnsupportedAlgorithm, alg)
		}
	case uefi.SectionTypeGUIDDefined:
		if _, ok := compression.GUIDFromAlgorithm(alg); !ok {
			return fmt.Errorf("%w: %v has no section GUID", compression.ErrUnsupportedAlgorithm, alg)
		}
	default:
		return fmt.Errorf("%w: %v", ErrNotCompressible, n.Label())
	}

	old := n.Attributes.Compression
	n.Attributes.Compression = alg
	err = e.rebuildOrUndo(n, func() {
		n.Attributes.Compression = old
	})
	if err != nil {
		return fmt.Errorf("compress %v with %v: %w", p, alg, err)
	}
	e.logf("%v now compressed with %v", p, alg)
	return nil
}
