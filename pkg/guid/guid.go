// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guid implements the mixed-endian GUID used throughout UEFI
// firmware images.
package guid

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// Size is the number of bytes in a GUID.
	Size = 16
	// UExample is an example of a string GUID.
	UExample  = "01234567-89AB-CDEF-0123-456789ABCDEF"
	strFormat = "%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X"
)

// The first three fields are stored little endian, the rest byte by byte.
var fields = [...]int{4, 2, 2, 1, 1, 1, 1, 1, 1, 1, 1}

// GUID represents a unique identifier in its on-flash byte order.
type GUID [Size]byte

func reverse(b []byte) {
	for i := 0; i < len(b)/2; i++ {
		other := len(b) - i - 1
		b[other], b[i] = b[i], b[other]
	}
}

func swapFields(u *GUID) {
	i := 0
	for _, fieldlen := range fields {
		reverse(u[i : i+fieldlen])
		i += fieldlen
	}
}

// Parse parses a guid string, with or without hyphens.
func Parse(s string) (*GUID, error) {
	stripped := strings.Replace(s, "-", "", -1)
	decoded, err := hex.DecodeString(stripped)
	if err != nil {
		return nil, fmt.Errorf("guid string not correct, need string of the format \n%v\n, got \n%v",
			UExample, s)
	}
	if len(decoded) != Size {
		return nil, fmt.Errorf("guid string has incorrect length, need string of the format \n%v\n, got \n%v",
			UExample, s)
	}

	u := GUID{}
	copy(u[:], decoded)
	swapFields(&u)
	return &u, nil
}

// MustParse parses a guid string or panics. It is meant for package level
// tables of well known GUIDs.
func MustParse(s string) *GUID {
	g, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return g
}

// FromBytes copies a GUID out of the first Size bytes of b.
func FromBytes(b []byte) (GUID, error) {
	var u GUID
	if len(b) < Size {
		return u, fmt.Errorf("need %d bytes for a GUID, have %d", Size, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// Filled returns a GUID made of the repeated byte b, which is how pad files
// and erased headers are named.
func Filled(b byte) GUID {
	var u GUID
	for i := range u {
		u[i] = b
	}
	return u
}

// IsZero reports whether every byte of the GUID is zero.
func (u GUID) IsZero() bool {
	return u == GUID{}
}

func (u GUID) String() string {
	// Value receiver, so swapping works on a copy.
	swapFields(&u)
	b := make([]interface{}, Size)
	for i := range u[:] {
		b[i] = u[i]
	}
	return fmt.Sprintf(strFormat, b...)
}

// MarshalJSON implements the marshaller interface.
func (u *GUID) MarshalJSON() ([]byte, error) {
	return []byte(`{"GUID" : "` + u.String() + `"}`), nil
}

// UnmarshalJSON implements the unmarshaller interface.
func (u *GUID) UnmarshalJSON(b []byte) error {
	j := make(map[string]string)
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	g, err := Parse(j["GUID"])
	if err != nil {
		return err
	}
	copy(u[:], g[:])
	return nil
}
