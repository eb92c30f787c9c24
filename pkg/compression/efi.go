// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// The EFI 1.1 and Tiano compressors share one format: an 8 byte header
// (compressed size, original size) followed by an MSB first bit stream of
// blocks. Each block starts with its symbol count and three canonical
// Huffman tables: T (code lengths of C), C (literals and match lengths) and
// P (match position bit lengths). The variants only differ in the width of
// the P table count field and in the dictionary size.
const (
	efiHeaderSize = 8

	efiMaxMatch  = 256
	efiThreshold = 3
	efiCodeBits  = 16 // longest Huffman code
	efiNC        = 0xFF + efiMaxMatch + 2 - efiThreshold
	efiCBit      = 9
	efiNT        = efiCodeBits + 3
	efiTBit      = 5
	efiMaxNP     = 31

	efiPBit   = 4
	tianoPBit = 5

	efiDicBit   = 13
	tianoDicBit = 19

	// Guard against headers announcing absurd output sizes.
	efiMaxOrigSize = 1 << 28
)

var errEFITruncated = errors.New("bit stream ends early")

// EFI implements Compressor for the EFI 1.1 standard compression.
type EFI struct{}

// Name returns the type of compression employed.
func (c *EFI) Name() string {
	return "EFI"
}

// Decode decodes a byte slice of EFI compressed data.
func (c *EFI) Decode(encodedData []byte) ([]byte, error) {
	out, _, err := efiDecode(encodedData, efiPBit)
	return out, err
}

// Encode encodes a byte slice with the EFI 1.1 compressor.
func (c *EFI) Encode(decodedData []byte) ([]byte, error) {
	return efiEncode(decodedData, efiPBit, efiDicBit)
}

// Tiano implements Compressor for the Tiano compression, the EFI format
// with a larger dictionary.
type Tiano struct{}

// Name returns the type of compression employed.
func (c *Tiano) Name() string {
	return "Tiano"
}

// Decode decodes a byte slice of Tiano compressed data.
func (c *Tiano) Decode(encodedData []byte) ([]byte, error) {
	out, _, err := efiDecode(encodedData, tianoPBit)
	return out, err
}

// Encode encodes a byte slice with the Tiano compressor.
func (c *Tiano) Encode(decodedData []byte) ([]byte, error) {
	return efiEncode(decodedData, tianoPBit, tianoDicBit)
}

// DecompressEFIFamily decodes an EFI or Tiano stream. Both variants are
// tried; a variant that consumes exactly the announced compressed size wins,
// and prefer breaks ties.
func DecompressEFIFamily(data []byte, prefer Algorithm) ([]byte, Algorithm, error) {
	order := []Algorithm{AlgorithmTiano, AlgorithmEFI}
	if prefer == AlgorithmEFI {
		order[0], order[1] = order[1], order[0]
	}
	var (
		fallback    []byte
		fallbackAlg Algorithm
		firstErr    error
	)
	for _, alg := range order {
		pbit := uint(tianoPBit)
		if alg == AlgorithmEFI {
			pbit = efiPBit
		}
		out, consumed, err := efiDecode(data, pbit)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if consumed == int(binary.LittleEndian.Uint32(data)) {
			return out, alg, nil
		}
		if fallback == nil {
			fallback, fallbackAlg = out, alg
		}
	}
	if fallback != nil {
		return fallback, fallbackAlg, nil
	}
	return nil, prefer, firstErr
}

type bitReader struct {
	data []byte
	pos  uint64
}

func (r *bitReader) bits(n uint) (uint32, error) {
	if r.pos+uint64(n) > uint64(len(r.data))*8 {
		return 0, errEFITruncated
	}
	var v uint32
	for ; n > 0; n-- {
		b := r.data[r.pos>>3] >> (7 - r.pos&7) & 1
		v = v<<1 | uint32(b)
		r.pos++
	}
	return v, nil
}

// consumed is the number of bytes touched so far.
func (r *bitReader) consumed() int {
	return int((r.pos + 7) / 8)
}

// huffman is a canonical Huffman code. A code with a single symbol takes
// no bits at all.
type huffman struct {
	single  bool
	sym     uint16
	count   [efiCodeBits + 1]uint16
	symbols []uint16
}

func singleSymbol(sym uint16) *huffman {
	return &huffman{single: true, sym: sym}
}

// newHuffman builds the decoding tables from code lengths. The lengths must
// describe a complete prefix code.
func newHuffman(lens []uint8) (*huffman, error) {
	h := &huffman{}
	for _, l := range lens {
		if l > efiCodeBits {
			return nil, fmt.Errorf("code length %d exceeds %d", l, efiCodeBits)
		}
		h.count[l]++
	}
	h.count[0] = 0
	left := 1
	for l := 1; l <= efiCodeBits; l++ {
		left <<= 1
		left -= int(h.count[l])
		if left < 0 {
			return nil, errors.New("over-subscribed Huffman table")
		}
	}
	if left != 0 {
		return nil, errors.New("incomplete Huffman table")
	}
	var offs [efiCodeBits + 2]uint16
	for l := 1; l <= efiCodeBits; l++ {
		offs[l+1] = offs[l] + h.count[l]
	}
	h.symbols = make([]uint16, offs[efiCodeBits+1])
	for sym, l := range lens {
		if l != 0 {
			h.symbols[offs[l]] = uint16(sym)
			offs[l]++
		}
	}
	return h, nil
}

func (h *huffman) decode(r *bitReader) (uint16, error) {
	if h.single {
		return h.sym, nil
	}
	var code, first, index int
	for l := 1; l <= efiCodeBits; l++ {
		b, err := r.bits(1)
		if err != nil {
			return 0, err
		}
		code |= int(b)
		count := int(h.count[l])
		if code-first < count {
			return h.symbols[index+code-first], nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, errors.New("invalid Huffman code")
}

type efiDecoder struct {
	r    bitReader
	pbit uint

	left    int
	c, p    *huffman
	scratch [efiNC]uint8
}

// readPTLen reads the code lengths of the T or P table. A zero count means
// the table has a single symbol which follows.
func (d *efiDecoder) readPTLen(nn int, nbit uint, special int) (*huffman, error) {
	n, err := d.r.bits(nbit)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		v, err := d.r.bits(nbit)
		if err != nil {
			return nil, err
		}
		if int(v) >= nn {
			return nil, fmt.Errorf("single symbol %d out of a %d symbol table", v, nn)
		}
		return singleSymbol(uint16(v)), nil
	}
	if int(n) > nn {
		return nil, fmt.Errorf("table declares %d lengths, at most %d allowed", n, nn)
	}
	lens := d.scratch[:nn]
	for i := range lens {
		lens[i] = 0
	}
	for i := 0; i < int(n); {
		c, err := d.r.bits(3)
		if err != nil {
			return nil, err
		}
		if c == 7 {
			for {
				b, err := d.r.bits(1)
				if err != nil {
					return nil, err
				}
				if b == 0 {
					break
				}
				c++
				if c > efiCodeBits {
					return nil, fmt.Errorf("code length %d exceeds %d", c, efiCodeBits)
				}
			}
		}
		lens[i] = uint8(c)
		i++
		if i == special {
			z, err := d.r.bits(2)
			if err != nil {
				return nil, err
			}
			for ; z > 0 && i < nn; z-- {
				lens[i] = 0
				i++
			}
		}
	}
	return newHuffman(lens)
}

func (d *efiDecoder) readCLen(t *huffman) (*huffman, error) {
	n, err := d.r.bits(efiCBit)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		v, err := d.r.bits(efiCBit)
		if err != nil {
			return nil, err
		}
		if v >= efiNC {
			return nil, fmt.Errorf("single symbol %d out of the C table", v)
		}
		return singleSymbol(uint16(v)), nil
	}
	if n > efiNC {
		return nil, fmt.Errorf("C table declares %d lengths, at most %d allowed", n, efiNC)
	}
	lens := d.scratch[:efiNC]
	for i := range lens {
		lens[i] = 0
	}
	for i := 0; i < int(n); {
		c, err := t.decode(&d.r)
		if err != nil {
			return nil, err
		}
		if c > 2 {
			lens[i] = uint8(c - 2)
			i++
			continue
		}
		zeros := uint32(1)
		switch c {
		case 1:
			extra, err := d.r.bits(4)
			if err != nil {
				return nil, err
			}
			zeros = extra + 3
		case 2:
			extra, err := d.r.bits(efiCBit)
			if err != nil {
				return nil, err
			}
			zeros = extra + 20
		}
		for ; zeros > 0 && i < efiNC; zeros-- {
			lens[i] = 0
			i++
		}
	}
	return newHuffman(lens)
}

func (d *efiDecoder) startBlock() error {
	size, err := d.r.bits(16)
	if err != nil {
		return err
	}
	d.left = int(size)
	if d.left == 0 {
		// The counter wraps around in the reference decoder.
		d.left = 1 << 16
	}
	t, err := d.readPTLen(efiNT, efiTBit, 3)
	if err != nil {
		return fmt.Errorf("T table: %w", err)
	}
	if d.c, err = d.readCLen(t); err != nil {
		return fmt.Errorf("C table: %w", err)
	}
	if d.p, err = d.readPTLen(efiMaxNP, d.pbit, -1); err != nil {
		return fmt.Errorf("P table: %w", err)
	}
	return nil
}

func (d *efiDecoder) position() (int, error) {
	sym, err := d.p.decode(&d.r)
	if err != nil {
		return 0, err
	}
	if sym <= 1 {
		return int(sym), nil
	}
	extra, err := d.r.bits(uint(sym - 1))
	if err != nil {
		return 0, err
	}
	return 1<<(sym-1) + int(extra), nil
}

// efiDecode decodes a stream and reports how many bytes of the compressed
// payload (after the header) were used.
func efiDecode(data []byte, pbit uint) ([]byte, int, error) {
	if len(data) < efiHeaderSize {
		return nil, 0, fmt.Errorf("%w: EFI header needs %d bytes, got %d", ErrCorruptStream, efiHeaderSize, len(data))
	}
	compSize := binary.LittleEndian.Uint32(data)
	origSize := binary.LittleEndian.Uint32(data[4:])
	if uint64(compSize)+efiHeaderSize > uint64(len(data)) {
		return nil, 0, fmt.Errorf("%w: compressed size %#x exceeds the %#x byte stream",
			ErrCorruptStream, compSize, len(data)-efiHeaderSize)
	}
	if origSize > efiMaxOrigSize || uint64(origSize) > MaxDecodedSize {
		return nil, 0, fmt.Errorf("%w: original size %#x is too large", ErrCorruptStream, origSize)
	}
	if origSize == 0 {
		return []byte{}, 0, nil
	}

	d := &efiDecoder{
		r:    bitReader{data: data[efiHeaderSize : efiHeaderSize+compSize]},
		pbit: pbit,
	}
	initial := origSize
	if initial > 1<<20 {
		initial = 1 << 20
	}
	out := make([]byte, 0, initial)
	for len(out) < int(origSize) {
		if d.left == 0 {
			if err := d.startBlock(); err != nil {
				return nil, 0, fmt.Errorf("%w: block at bit %d: %v", ErrCorruptStream, d.r.pos, err)
			}
		}
		d.left--
		c, err := d.c.decode(&d.r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruptStream, err)
		}
		if c < 0x100 {
			out = append(out, byte(c))
			continue
		}
		length := int(c) - (0x100 - efiThreshold)
		pos, err := d.position()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruptStream, err)
		}
		src := len(out) - pos - 1
		if src < 0 {
			return nil, 0, fmt.Errorf("%w: match reaches %d bytes before the start", ErrCorruptStream, -src)
		}
		for ; length > 0 && len(out) < int(origSize); length-- {
			out = append(out, out[src])
			src++
		}
	}
	return out, d.r.consumed(), nil
}
