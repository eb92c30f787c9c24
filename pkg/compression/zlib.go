// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zlib"
)

const (
	zlibCompressionLevel  = 9
	zlibSectionHeaderSize = 256
	zlibSizeOffset        = 20
)

// ZLIB implements Compressor for zlib streams behind a 256 byte header
// that stores the compressed size.
type ZLIB struct{}

// Name returns the type of compression employed.
func (c *ZLIB) Name() string {
	return "ZLIB"
}

// Decode decodes a byte slice of ZLIB data.
func (c *ZLIB) Decode(encodedData []byte) ([]byte, error) {
	if len(encodedData) < zlibSectionHeaderSize {
		return nil, errors.New("ZLIB.Decode: missing section header")
	}

	// Check size in ZLIB section header
	size := binary.LittleEndian.Uint32(
		encodedData[zlibSizeOffset : zlibSizeOffset+4],
	)
	if size != uint32(len(encodedData)-zlibSectionHeaderSize) {
		return nil, fmt.Errorf("ZLIB.Decode: header announces %d bytes, stream holds %d",
			size, len(encodedData)-zlibSectionHeaderSize)
	}

	// Remove section header
	r, err := zlib.NewReader(
		bytes.NewBuffer(encodedData[zlibSectionHeaderSize:]),
	)
	if err != nil {
		return nil, err
	}

	decodedData, err := readCapped(r)
	r.Close()
	if err != nil {
		return nil, err
	}

	return decodedData, nil
}

// Encode encodes a byte slice with ZLIB.
func (c *ZLIB) Encode(decodedData []byte) ([]byte, error) {
	var encodedData bytes.Buffer

	w, err := zlib.NewWriterLevel(&encodedData, zlibCompressionLevel)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Add ZLIB section header containing the compressed size and zero padding.
	header := make([]byte, zlibSectionHeaderSize, zlibSectionHeaderSize+encodedData.Len())
	binary.LittleEndian.PutUint32(header[zlibSizeOffset:], uint32(encodedData.Len()))
	return append(header, encodedData.Bytes()...), nil
}
