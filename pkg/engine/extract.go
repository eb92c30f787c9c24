// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"

	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/reconstruct"
)

// ExtractMode selects what Extract returns.
type ExtractMode int

// Extract modes.
const (
	// ExtractAsStored is header and body as they would be written now.
	ExtractAsStored ExtractMode = iota
	// ExtractBodyOnly is the payload without the header. For compressed
	// sections this is the decompressed stream.
	ExtractBodyOnly
	// ExtractRaw is the node as it was originally parsed.
	ExtractRaw
)

func (m ExtractMode) String() string {
	switch m {
	case ExtractAsStored:
		return "as-stored"
	case ExtractBodyOnly:
		return "body"
	case ExtractRaw:
		return "raw"
	}
	return fmt.Sprintf("ExtractMode(%d)", int(m))
}

// ParseExtractMode is the inverse of ExtractMode.String.
func ParseExtractMode(s string) (ExtractMode, error) {
	for _, m := range []ExtractMode{ExtractAsStored, ExtractBodyOnly, ExtractRaw} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown extract mode %q", s)
}

// Extract returns the bytes of the node at p. The returned slice is a
// copy and the model is not modified.
func (e *Engine) Extract(p layout.Path, mode ExtractMode) ([]byte, error) {
	n, err := e.model.Get(p)
	if err != nil {
		return nil, err
	}
	switch mode {
	case ExtractAsStored:
		return reconstruct.Reconstruct(n, e.opts.reconstructOptions())
	case ExtractBodyOnly:
		return reconstruct.Payload(n, e.opts.reconstructOptions())
	case ExtractRaw:
		if n.Original == nil {
			return nil, fmt.Errorf("%w: %v was not parsed from the image", ErrInvalidTarget, p)
		}
		return append([]byte(nil), n.Original...), nil
	}
	return nil, fmt.Errorf("unknown extract mode %v", mode)
}
