// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"
	"strconv"
	"strings"
)

// Path addresses a node by the child indices leading to it from the root.
// The empty path is the root. Paths are only stable until the next
// structural edit above or before them.
type Path []int

// String formats the path as "/0/3/1". The root is "/".
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, i := range p {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

// ParsePath is the inverse of Path.String.
func ParsePath(s string) (Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, "/")
	p := make(Path, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: %q is not a child index", ErrPathInvalid, part)
		}
		p[i] = v
	}
	return p, nil
}

// Parent returns the path of the parent. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return append(Path{}, p[:len(p)-1]...)
}

// Child returns the path of the i-th child.
func (p Path) Child(i int) Path {
	return append(append(Path{}, p...), i)
}

// Last returns the index of the node within its parent, or -1 for the root.
func (p Path) Last() int {
	if len(p) == 0 {
		return -1
	}
	return p[len(p)-1]
}

// Equal reports whether both paths address the same node.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Before reports whether p comes before o in pre-order, the order nodes
// are laid out in.
func (p Path) Before(o Path) bool {
	for i := 0; i < len(p) && i < len(o); i++ {
		if p[i] != o[i] {
			return p[i] < o[i]
		}
	}
	return len(p) < len(o)
}
