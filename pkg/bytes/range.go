// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bytes holds helpers for byte ranges and fill-pattern checks on
// flash images.
package bytes

import (
	"fmt"
	"sort"
	"strings"
)

// Range is a span of bytes inside an image.
type Range struct {
	Offset uint64
	Length uint64
}

func (r Range) String() string {
	return fmt.Sprintf(`{"Offset":"0x%x", "Length":"0x%x"}`, r.Offset, r.Length)
}

// End returns the offset right after the last byte of the range.
func (r Range) End() uint64 {
	return r.Offset + r.Length
}

// Intersect returns True if ranges "r" and "cmp" has at least
// one byte with the same offset.
func (r Range) Intersect(cmp Range) bool {
	if r.Length == 0 || cmp.Length == 0 {
		return false
	}
	return r.Offset < cmp.End() && cmp.Offset < r.End()
}

// Overlap returns the bytes shared by "r" and "cmp". The result has zero
// Length when they do not intersect.
func (r Range) Overlap(cmp Range) Range {
	if !r.Intersect(cmp) {
		return Range{}
	}
	start := r.Offset
	if cmp.Offset > start {
		start = cmp.Offset
	}
	end := r.End()
	if cmp.End() < end {
		end = cmp.End()
	}
	return Range{Offset: start, Length: end - start}
}

// Exclude returns the parts of "r" not covered by any of "excludes", in
// ascending order.
func (r Range) Exclude(excludes ...Range) Ranges {
	cut := make(Ranges, 0, len(excludes))
	for _, e := range excludes {
		if o := r.Overlap(e); o.Length != 0 {
			cut = append(cut, o)
		}
	}
	cut.SortAndMerge()

	var result Ranges
	cursor := r.Offset
	for _, c := range cut {
		if c.Offset > cursor {
			result = append(result, Range{Offset: cursor, Length: c.Offset - cursor})
		}
		cursor = c.End()
	}
	if cursor < r.End() {
		result = append(result, Range{Offset: cursor, Length: r.End() - cursor})
	}
	return result
}

// Ranges is a helper to manipulate multiple `Range`-s at once
type Ranges []Range

func (s Ranges) String() string {
	r := make([]string, 0, len(s))
	for _, oneRange := range s {
		r = append(r, oneRange.String())
	}
	return `[` + strings.Join(r, `, `) + `]`
}

// Sort sorts the slice by field Offset
func (s Ranges) Sort() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Offset < s[j].Offset
	})
}

// MergeRanges merges ranges which are at most mergeDistance apart.
//
// Warning: should be called only on sorted ranges!
func MergeRanges(in Ranges, mergeDistance uint64) Ranges {
	if len(in) < 2 {
		return in
	}

	var result Ranges
	entry := in[0]
	for _, nextEntry := range in[1:] {
		if entry.End()+mergeDistance >= nextEntry.Offset {
			if nextEntry.End() > entry.End() {
				entry.Length = nextEntry.End() - entry.Offset
			}
			continue
		}
		result = append(result, entry)
		entry = nextEntry
	}
	return append(result, entry)
}

// SortAndMerge sorts the slice (by field Offset) and then merges ranges
// which touch or overlap.
func (s *Ranges) SortAndMerge() {
	if len(*s) < 2 {
		return
	}
	s.Sort()
	*s = MergeRanges(*s, 0)
}

// Intersections returns every pair of indices (i < j) whose ranges share
// at least one byte.
func (s Ranges) Intersections() [][2]int {
	var pairs [][2]int
	for i := range s {
		for j := i + 1; j < len(s); j++ {
			if s[i].Intersect(s[j]) {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}

// IsIn returns if the index is covered by this ranges
func (s Ranges) IsIn(index uint64) bool {
	for _, r := range s {
		// Offset is inclusive, End is exclusive, like slice indices.
		if r.Offset <= index && index < r.End() {
			return true
		}
	}
	return false
}
