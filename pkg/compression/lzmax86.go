// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

// LZMAX86 implements Compressor and includes a x86 branch filter in front of
// the LZMA stage. The filter turns relative CALL and JMP targets into
// absolute ones, which compress better.
type LZMAX86 struct {
	lzma Compressor
}

// Name returns the type of compression employed.
func (c *LZMAX86) Name() string {
	return "LZMAX86"
}

// Decode decodes a byte slice of LZMA data and reverts the x86 filter.
func (c *LZMAX86) Decode(encodedData []byte) ([]byte, error) {
	decodedData, err := c.lzma.Decode(encodedData)
	if err != nil {
		return nil, err
	}
	var state uint32
	x86Convert(decodedData, 0, &state, false)
	return decodedData, nil
}

// Encode applies the x86 filter to a copy of decodedData and encodes it with
// LZMA.
func (c *LZMAX86) Encode(decodedData []byte) ([]byte, error) {
	filtered := append([]byte(nil), decodedData...)
	var state uint32
	x86Convert(filtered, 0, &state, true)
	return c.lzma.Encode(filtered)
}

var (
	x86MaskToAllowed   = [8]bool{true, true, true, false, true, false, false, false}
	x86MaskToBitNumber = [8]uint{0, 1, 2, 2, 3, 3, 3, 3}
)

func x86TestMSByte(b byte) bool {
	return b == 0 || b == 0xFF
}

// x86Convert is the BCJ x86 filter. It converts the 32 bit operands of E8
// and E9 opcodes in place and returns the number of bytes processed.
func x86Convert(data []byte, ip uint32, state *uint32, encoding bool) int {
	size := len(data)
	if size < 5 {
		return 0
	}
	ip += 5
	prevMask := *state & 7
	bufferPos := 0
	prevPos := -1

	for {
		p := bufferPos
		limit := size - 4
		for p < limit && data[p]&0xFE != 0xE8 {
			p++
		}
		bufferPos = p
		if p >= limit {
			break
		}

		if d := bufferPos - prevPos; d > 3 {
			prevMask = 0
		} else {
			prevMask = (prevMask << uint(d-1)) & 7
			if prevMask != 0 {
				b := data[p+4-int(x86MaskToBitNumber[prevMask])]
				if !x86MaskToAllowed[prevMask] || x86TestMSByte(b) {
					prevPos = bufferPos
					prevMask = ((prevMask << 1) & 7) | 1
					bufferPos++
					continue
				}
			}
		}
		prevPos = bufferPos

		if !x86TestMSByte(data[p+4]) {
			prevMask = ((prevMask << 1) & 7) | 1
			bufferPos++
			continue
		}

		src := uint32(data[p+4])<<24 | uint32(data[p+3])<<16 | uint32(data[p+2])<<8 | uint32(data[p+1])
		var dest uint32
		for {
			if encoding {
				dest = ip + uint32(bufferPos) + src
			} else {
				dest = src - (ip + uint32(bufferPos))
			}
			if prevMask == 0 {
				break
			}
			index := x86MaskToBitNumber[prevMask] * 8
			if !x86TestMSByte(byte(dest >> (24 - index))) {
				break
			}
			src = dest ^ (1<<(32-index) - 1)
		}
		data[p+4] = ^byte((dest>>24)&1 - 1)
		data[p+3] = byte(dest >> 16)
		data[p+2] = byte(dest >> 8)
		data[p+1] = byte(dest)
		bufferPos += 5
	}

	if d := bufferPos - prevPos; d > 3 {
		*state = 0
	} else {
		*state = (prevMask << uint(d-1)) & 7
	}
	return bufferPos
}
