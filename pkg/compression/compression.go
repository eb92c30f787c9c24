// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compression implements reading and writing of compressed files.
//
// This package is specifically designed for the formats used by popular UEFI
// implementations: the EFI 1.1 and Tiano variants of the LZ77+Huffman
// compressor, LZMA (optionally behind the x86 branch filter), and the
// vendor specific zlib, LZ4 and Brotli wrappers.
package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/linuxboot/ffsengine/pkg/guid"
)

// Errors returned by the codec set. Decoding failures of a known algorithm
// always wrap ErrCorruptStream.
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported compression algorithm")
	ErrCorruptStream        = errors.New("corrupt compressed stream")
)

// MaxDecodedSize bounds the output of every decoder. Streams decoding to
// more bytes fail with ErrCorruptStream.
var MaxDecodedSize uint64 = 1 << 28

// readCapped reads r to the end, at most MaxDecodedSize bytes.
func readCapped(r io.Reader) ([]byte, error) {
	limit := MaxDecodedSize
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) > limit {
		return nil, fmt.Errorf("%w: decoded data exceeds %#x bytes", ErrCorruptStream, limit)
	}
	return out, nil
}

// checkDeclaredSize rejects headers announcing more than MaxDecodedSize.
func checkDeclaredSize(name string, size uint64) error {
	if size > MaxDecodedSize {
		return fmt.Errorf("%w: %s header announces %#x bytes, at most %#x are decoded",
			ErrCorruptStream, name, size, MaxDecodedSize)
	}
	return nil
}

// Compressor defines a single compression scheme (such as LZMA).
type Compressor interface {
	// Name is typically the name of a class.
	Name() string

	// Decode and Encode obey "x == Decode(Encode(x))".
	Decode(encodedData []byte) ([]byte, error)
	Encode(decodedData []byte) ([]byte, error)
}

// Algorithm identifies a compression algorithm.
type Algorithm int

// Supported algorithms. AlgorithmAuto is only meaningful for decoding: the
// stream is probed and the resolved algorithm is returned.
const (
	AlgorithmNone Algorithm = iota
	AlgorithmEFI
	AlgorithmTiano
	AlgorithmLZMA
	AlgorithmLZMAX86
	AlgorithmZLIB
	AlgorithmLZ4
	AlgorithmBrotli
	AlgorithmAuto
)

var algorithmNames = map[Algorithm]string{
	AlgorithmNone:    "None",
	AlgorithmEFI:     "EFI",
	AlgorithmTiano:   "Tiano",
	AlgorithmLZMA:    "LZMA",
	AlgorithmLZMAX86: "LZMAX86",
	AlgorithmZLIB:    "ZLIB",
	AlgorithmLZ4:     "LZ4",
	AlgorithmBrotli:  "BROTLI",
	AlgorithmAuto:    "Auto",
}

func (a Algorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm converts a name as returned by Algorithm.String back to an
// Algorithm. The match is case insensitive.
func ParseAlgorithm(name string) (Algorithm, error) {
	for a, s := range algorithmNames {
		if strings.EqualFold(s, name) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
}

// Well-known GUIDs for GUIDed sections containing compressed data.
var (
	BROTLIGUID  = *guid.MustParse("3D532050-5CDA-4FD0-879E-0F7F630D5AFB")
	LZMAGUID    = *guid.MustParse("EE4E5898-3914-4259-9D6E-DC7BD79403CF")
	LZMAX86GUID = *guid.MustParse("D42AE6BD-1352-4BFB-909A-CA72A6EAE889")
	TianoGUID   = *guid.MustParse("A31280AD-481E-41B6-95E8-127F4C984779")
	ZLIBGUID    = *guid.MustParse("CE3233F5-2CD6-4D87-9152-4A238BB6D1C4")
)

var guidAlgorithms = map[guid.GUID]Algorithm{
	BROTLIGUID:  AlgorithmBrotli,
	LZMAGUID:    AlgorithmLZMA,
	LZMAX86GUID: AlgorithmLZMAX86,
	TianoGUID:   AlgorithmTiano,
	ZLIBGUID:    AlgorithmZLIB,
}

// AlgorithmFromGUID returns the algorithm a GUID-defined section with the
// given GUID is compressed with.
func AlgorithmFromGUID(g guid.GUID) (Algorithm, bool) {
	a, ok := guidAlgorithms[g]
	return a, ok
}

// GUIDFromAlgorithm is the inverse of AlgorithmFromGUID.
func GUIDFromAlgorithm(a Algorithm) (guid.GUID, bool) {
	for g, alg := range guidAlgorithms {
		if alg == a {
			return g, true
		}
	}
	return guid.GUID{}, false
}

// Config selects external tools used by the codec set. The zero value uses
// the Go implementations only.
type Config struct {
	// XZPath is the system xz command used for LZMA encoding. If unset, an
	// internal lzma implementation is used.
	XZPath string
	// BrotliPath is the system brotli command. Brotli is unsupported
	// without it.
	BrotliPath string
}

// Compressor returns the Compressor implementing a.
func (c Config) Compressor(a Algorithm) (Compressor, error) {
	switch a {
	case AlgorithmNone:
		return &Stored{}, nil
	case AlgorithmEFI:
		return &EFI{}, nil
	case AlgorithmTiano:
		return &Tiano{}, nil
	case AlgorithmLZMA:
		if c.XZPath != "" {
			return &SystemLZMA{c.XZPath}, nil
		}
		return &LZMA{}, nil
	case AlgorithmLZMAX86:
		if c.XZPath != "" {
			// Alternatively, the -f86 argument could be passed
			// into xz. It does not make much difference because
			// the x86 filter is not the bottleneck.
			return &LZMAX86{&SystemLZMA{c.XZPath}}, nil
		}
		return &LZMAX86{&LZMA{}}, nil
	case AlgorithmZLIB:
		return &ZLIB{}, nil
	case AlgorithmLZ4:
		return &LZ4{}, nil
	case AlgorithmBrotli:
		if c.BrotliPath == "" {
			return nil, fmt.Errorf("%w: %v needs a brotli command", ErrUnsupportedAlgorithm, a)
		}
		return &SystemBROTLI{c.BrotliPath}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, a)
}

// CompressorFromGUID returns a Compressor for the corresponding GUIDed
// Section, or nil when the GUID does not name a compression scheme.
func (c Config) CompressorFromGUID(g *guid.GUID) Compressor {
	a, ok := AlgorithmFromGUID(*g)
	if !ok {
		return nil
	}
	comp, err := c.Compressor(a)
	if err != nil {
		return nil
	}
	return comp
}

// CompressorFromGUID uses the zero Config.
func CompressorFromGUID(g *guid.GUID) Compressor {
	return Config{}.CompressorFromGUID(g)
}

// Decompress decodes data compressed with alg. With AlgorithmAuto the
// algorithm is probed. The resolved algorithm is returned with the output so
// callers can compress the data the same way again.
func (c Config) Decompress(data []byte, alg Algorithm) ([]byte, Algorithm, error) {
	if alg == AlgorithmAuto {
		return c.probe(data)
	}
	if alg == AlgorithmEFI || alg == AlgorithmTiano {
		// Producers disagree on which variant the standard compression
		// type means. Ask for one, get whichever decodes.
		return DecompressEFIFamily(data, alg)
	}
	comp, err := c.Compressor(alg)
	if err != nil {
		return nil, alg, err
	}
	out, err := comp.Decode(data)
	if err != nil {
		return nil, alg, corrupt(alg, err)
	}
	return out, alg, nil
}

// Compress encodes data with alg.
func (c Config) Compress(data []byte, alg Algorithm) ([]byte, error) {
	comp, err := c.Compressor(alg)
	if err != nil {
		return nil, err
	}
	return comp.Encode(data)
}

// Decompress uses the zero Config.
func Decompress(data []byte, alg Algorithm) ([]byte, Algorithm, error) {
	return Config{}.Decompress(data, alg)
}

// Compress uses the zero Config.
func Compress(data []byte, alg Algorithm) ([]byte, error) {
	return Config{}.Compress(data, alg)
}

func corrupt(alg Algorithm, err error) error {
	if errors.Is(err, ErrCorruptStream) || errors.Is(err, ErrUnsupportedAlgorithm) {
		return err
	}
	return fmt.Errorf("%w: %v: %v", ErrCorruptStream, alg, err)
}

// Probe guesses the algorithm of a stream from its leading bytes without
// decoding it. It returns AlgorithmAuto when nothing matches.
func Probe(data []byte) Algorithm {
	switch {
	case isLZ4Frame(data):
		return AlgorithmLZ4
	case isZLIBFramed(data):
		return AlgorithmZLIB
	case isEFIHeader(data):
		return AlgorithmTiano
	case isLZMAHeader(data):
		return AlgorithmLZMA
	}
	return AlgorithmAuto
}

func (c Config) probe(data []byte) ([]byte, Algorithm, error) {
	alg := Probe(data)
	switch alg {
	case AlgorithmAuto:
		return nil, alg, fmt.Errorf("%w: no known signature in %d bytes", ErrUnsupportedAlgorithm, len(data))
	case AlgorithmTiano:
		out, resolved, err := DecompressEFIFamily(data, AlgorithmTiano)
		if err == nil || !isLZMAHeader(data) {
			return out, resolved, err
		}
		// Short LZMA streams can pass for an EFI header.
		alg = AlgorithmLZMA
	}
	return c.Decompress(data, alg)
}

func isLZ4Frame(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == lz4FrameMagic
}

func isZLIBFramed(data []byte) bool {
	if len(data) < zlibSectionHeaderSize+2 {
		return false
	}
	size := binary.LittleEndian.Uint32(data[zlibSizeOffset:])
	cmf, flg := data[zlibSectionHeaderSize], data[zlibSectionHeaderSize+1]
	return int(size) == len(data)-zlibSectionHeaderSize &&
		cmf&0x0F == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func isEFIHeader(data []byte) bool {
	if len(data) < efiHeaderSize {
		return false
	}
	compSize := uint64(binary.LittleEndian.Uint32(data))
	// Sections pad the stream to 4 bytes at most.
	return compSize+efiHeaderSize <= uint64(len(data)) && compSize+efiHeaderSize+4 > uint64(len(data))
}

func isLZMAHeader(data []byte) bool {
	if len(data) < lzmaHeaderSize {
		return false
	}
	if data[0] >= 9*5*5 {
		return false
	}
	dictSize := binary.LittleEndian.Uint32(data[1:])
	if dictSize < 1<<12 {
		return false
	}
	size := binary.LittleEndian.Uint64(data[5:])
	return size == lzmaUnknownSize || size < 1<<32
}

// Stored implements Compressor for data kept as is.
type Stored struct{}

// Name returns the type of compression employed.
func (c *Stored) Name() string {
	return "None"
}

// Decode returns a copy of encodedData.
func (c *Stored) Decode(encodedData []byte) ([]byte, error) {
	return append([]byte(nil), encodedData...), nil
}

// Encode returns a copy of decodedData.
func (c *Stored) Encode(decodedData []byte) ([]byte, error) {
	return append([]byte(nil), decodedData...), nil
}
