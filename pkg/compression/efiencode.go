// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"
)

const (
	efiHashBits   = 15
	efiMaxChain   = 128
	efiBlockLimit = 0xFFFF
)

// token is one C symbol: a literal, or a match of length bytes starting
// pos+1 bytes back.
type token struct {
	length uint16
	lit    byte
	pos    uint32
}

func (t token) symbol() int {
	if t.length == 0 {
		return int(t.lit)
	}
	return int(t.length) + 0x100 - efiThreshold
}

func positionSymbol(pos uint32) int {
	return bits.Len32(pos)
}

// lzParse splits data into literals and greedy matches found through hash
// chains over 3 byte prefixes.
func lzParse(data []byte, dicBit uint) []token {
	maxPos := 1<<dicBit - 1
	head := make([]int32, 1<<efiHashBits)
	for i := range head {
		head[i] = -1
	}
	prev := make([]int32, len(data))
	hash := func(i int) int {
		v := uint32(data[i])<<16 | uint32(data[i+1])<<8 | uint32(data[i+2])
		return int((v * 2654435761) >> (32 - efiHashBits))
	}
	insert := func(i int) {
		if i+efiThreshold > len(data) {
			return
		}
		h := hash(i)
		prev[i] = head[h]
		head[h] = int32(i)
	}

	tokens := make([]token, 0, len(data)/2)
	for i := 0; i < len(data); {
		bestLen, bestPos := 0, 0
		if i+efiThreshold <= len(data) {
			limit := len(data) - i
			if limit > efiMaxMatch {
				limit = efiMaxMatch
			}
			j := int(head[hash(i)])
			for steps := 0; j >= 0 && i-j-1 <= maxPos && steps < efiMaxChain; steps++ {
				n := 0
				for n < limit && data[j+n] == data[i+n] {
					n++
				}
				if n > bestLen {
					bestLen, bestPos = n, i-j-1
					if n == limit {
						break
					}
				}
				j = int(prev[j])
			}
		}
		if bestLen < efiThreshold {
			tokens = append(tokens, token{lit: data[i]})
			insert(i)
			i++
			continue
		}
		tokens = append(tokens, token{length: uint16(bestLen), pos: uint32(bestPos)})
		for k := 0; k < bestLen; k++ {
			insert(i + k)
		}
		i += bestLen
	}
	return tokens
}

type bitWriter struct {
	out []byte
	acc uint64
	n   uint
}

func (w *bitWriter) putBits(n uint, v uint32) {
	if n == 0 {
		return
	}
	w.acc = w.acc<<n | uint64(v)&(1<<n-1)
	w.n += n
	for w.n >= 8 {
		w.out = append(w.out, byte(w.acc>>(w.n-8)))
		w.n -= 8
	}
}

func (w *bitWriter) flush() []byte {
	if w.n > 0 {
		w.out = append(w.out, byte(w.acc<<(8-w.n)))
		w.n = 0
	}
	return w.out
}

// code is an encoding table. A single symbol table has all lengths zero.
type code struct {
	lens  []uint8
	codes []uint16
}

func (c *code) put(w *bitWriter, sym int) {
	w.putBits(uint(c.lens[sym]), uint32(c.codes[sym]))
}

// buildCode returns a length limited canonical code for the frequencies and
// the symbol to announce when fewer than two symbols occur.
func buildCode(freq []uint32) (c *code, single int, isSingle bool) {
	c = &code{lens: make([]uint8, len(freq)), codes: make([]uint16, len(freq))}
	used := 0
	for sym, f := range freq {
		if f > 0 {
			used++
			single = sym
		}
	}
	if used < 2 {
		return c, single, true
	}
	f := append([]uint32(nil), freq...)
	for !huffmanLengths(f, c.lens) {
		for i := range f {
			if f[i] > 0 {
				f[i] = f[i]>>1 | 1
			}
		}
	}
	var count [efiCodeBits + 1]uint32
	for _, l := range c.lens {
		count[l]++
	}
	count[0] = 0
	var next [efiCodeBits + 1]uint32
	var v uint32
	for l := 1; l <= efiCodeBits; l++ {
		v = (v + count[l-1]) << 1
		next[l] = v
	}
	for sym, l := range c.lens {
		if l != 0 {
			c.codes[sym] = uint16(next[l])
			next[l]++
		}
	}
	return c, 0, false
}

// huffmanLengths fills lens with Huffman code lengths for freq, or reports
// false when a code would exceed the maximum length.
func huffmanLengths(freq []uint32, lens []uint8) bool {
	type node struct {
		weight      uint64
		left, right int
	}
	var syms []int
	for sym, f := range freq {
		lens[sym] = 0
		if f > 0 {
			syms = append(syms, sym)
		}
	}
	sort.SliceStable(syms, func(a, b int) bool { return freq[syms[a]] < freq[syms[b]] })

	n := len(syms)
	nodes := make([]node, 0, 2*n-1)
	for _, sym := range syms {
		nodes = append(nodes, node{weight: uint64(freq[sym]), left: -1, right: sym})
	}
	leaf, inner := 0, n
	pick := func() int {
		if leaf < n && (inner >= len(nodes) || nodes[leaf].weight <= nodes[inner].weight) {
			leaf++
			return leaf - 1
		}
		inner++
		return inner - 1
	}
	for k := 0; k < n-1; k++ {
		a := pick()
		b := pick()
		nodes = append(nodes, node{weight: nodes[a].weight + nodes[b].weight, left: a, right: b})
	}

	depth := make([]int, len(nodes))
	for i := len(nodes) - 1; i >= n; i-- {
		depth[nodes[i].left] = depth[i] + 1
		depth[nodes[i].right] = depth[i] + 1
	}
	for i := 0; i < n; i++ {
		if depth[i] > efiCodeBits {
			return false
		}
		lens[nodes[i].right] = uint8(depth[i])
	}
	return true
}

type efiEncoder struct {
	w    bitWriter
	pbit uint
	np   int
}

// writePTLen writes T or P table lengths, trimmed of trailing zeros.
func (e *efiEncoder) writePTLen(lens []uint8, nbit uint, special int) {
	n := len(lens)
	for n > 0 && lens[n-1] == 0 {
		n--
	}
	e.w.putBits(nbit, uint32(n))
	for i := 0; i < n; {
		k := lens[i]
		i++
		if k <= 6 {
			e.w.putBits(3, uint32(k))
		} else {
			e.w.putBits(uint(k-3), 1<<(k-3)-2)
		}
		if i == special {
			for i < 6 && lens[i] == 0 {
				i++
			}
			e.w.putBits(2, uint32(i-3))
		}
	}
}

// tItem is one T symbol of the C length encoding plus its extra bits.
type tItem struct {
	sym   int
	extra uint32
	nbits uint
}

// cLenItems run length encodes the C code lengths as T symbols.
func cLenItems(lens []uint8) (int, []tItem) {
	n := len(lens)
	for n > 0 && lens[n-1] == 0 {
		n--
	}
	var items []tItem
	for i := 0; i < n; {
		l := lens[i]
		i++
		if l != 0 {
			items = append(items, tItem{sym: int(l) + 2})
			continue
		}
		k := 1
		for i < n && lens[i] == 0 {
			i++
			k++
		}
		switch {
		case k <= 2:
			for ; k > 0; k-- {
				items = append(items, tItem{sym: 0})
			}
		case k <= 18:
			items = append(items, tItem{sym: 1, extra: uint32(k - 3), nbits: 4})
		case k == 19:
			items = append(items, tItem{sym: 0}, tItem{sym: 1, extra: 15, nbits: 4})
		default:
			items = append(items, tItem{sym: 2, extra: uint32(k - 20), nbits: efiCBit})
		}
	}
	return n, items
}

func (e *efiEncoder) writeBlock(tokens []token) {
	cFreq := make([]uint32, efiNC)
	pFreq := make([]uint32, e.np)
	for _, t := range tokens {
		cFreq[t.symbol()]++
		if t.length != 0 {
			pFreq[positionSymbol(t.pos)]++
		}
	}

	e.w.putBits(16, uint32(len(tokens)))
	c, cSingle, isSingle := buildCode(cFreq)
	if isSingle {
		e.w.putBits(efiTBit, 0)
		e.w.putBits(efiTBit, 0)
		e.w.putBits(efiCBit, 0)
		e.w.putBits(efiCBit, uint32(cSingle))
	} else {
		n, items := cLenItems(c.lens)
		tFreq := make([]uint32, efiNT)
		for _, it := range items {
			tFreq[it.sym]++
		}
		t, tSingle, isSingle := buildCode(tFreq)
		if isSingle {
			e.w.putBits(efiTBit, 0)
			e.w.putBits(efiTBit, uint32(tSingle))
		} else {
			e.writePTLen(t.lens, efiTBit, 3)
		}
		e.w.putBits(efiCBit, uint32(n))
		for _, it := range items {
			t.put(&e.w, it.sym)
			e.w.putBits(it.nbits, it.extra)
		}
	}

	p, pSingle, isSingle := buildCode(pFreq)
	if isSingle {
		e.w.putBits(e.pbit, 0)
		e.w.putBits(e.pbit, uint32(pSingle))
	} else {
		e.writePTLen(p.lens, e.pbit, -1)
	}

	for _, t := range tokens {
		c.put(&e.w, t.symbol())
		if t.length == 0 {
			continue
		}
		sym := positionSymbol(t.pos)
		p.put(&e.w, sym)
		if sym > 1 {
			e.w.putBits(uint(sym-1), t.pos)
		}
	}
}

// efiEncode compresses data into the EFI/Tiano format.
func efiEncode(data []byte, pbit, dicBit uint) ([]byte, error) {
	if uint64(len(data)) > efiMaxOrigSize {
		return nil, fmt.Errorf("%d bytes exceed the EFI compressor limit", len(data))
	}
	e := &efiEncoder{pbit: pbit, np: int(dicBit) + 1}
	tokens := lzParse(data, dicBit)
	for len(tokens) > 0 {
		n := len(tokens)
		if n > efiBlockLimit {
			n = efiBlockLimit
		}
		e.writeBlock(tokens[:n])
		tokens = tokens[n:]
	}
	body := e.w.flush()

	out := make([]byte, efiHeaderSize, efiHeaderSize+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(data)))
	return append(out, body...), nil
}
