// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ulikunitz/xz/lzma"
)

const (
	// lzmaHeaderSize is the properties byte, the dictionary size and the
	// uncompressed size of the classic .lzma header.
	lzmaHeaderSize  = 13
	lzmaUnknownSize = 0xFFFFFFFFFFFFFFFF
	lzmaDictCap     = 1 << 23
)

// LZMA implements Compressor and uses a Go-based implementation.
type LZMA struct{}

// Name returns the type of compression employed.
func (c *LZMA) Name() string {
	return "LZMA"
}

// Decode decodes a byte slice of LZMA data.
func (c *LZMA) Decode(encodedData []byte) ([]byte, error) {
	if len(encodedData) < lzmaHeaderSize {
		return nil, fmt.Errorf("%w: LZMA header needs %d bytes, got %d", ErrCorruptStream, lzmaHeaderSize, len(encodedData))
	}
	size := binary.LittleEndian.Uint64(encodedData[5:])
	if size != lzmaUnknownSize {
		if err := checkDeclaredSize("LZMA", size); err != nil {
			return nil, err
		}
	}
	r, err := lzma.NewReader(bytes.NewReader(encodedData))
	if err != nil {
		return nil, err
	}
	out, err := readCapped(r)
	if err != nil {
		return nil, err
	}
	if size != lzmaUnknownSize && uint64(len(out)) != size {
		return nil, fmt.Errorf("%w: LZMA header announces %d bytes, stream holds %d", ErrCorruptStream, size, len(out))
	}
	return out, nil
}

// Encode encodes a byte slice with LZMA. The output only depends on the
// input: the dictionary size and properties are fixed and the size is
// stored in the header, which EDK2 decompressors rely on.
func (c *LZMA) Encode(decodedData []byte) ([]byte, error) {
	wc := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: 3, LP: 0, PB: 2},
		DictCap:      lzmaDictCap,
		SizeInHeader: true,
		Size:         int64(len(decodedData)),
		EOSMarker:    false,
	}
	if err := wc.Verify(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	w, err := wc.NewWriter(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
