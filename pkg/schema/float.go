// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"math"
	"strconv"
)

// A custom float type is used so that (Un)MarshalJSON can be overloaded
// and NaN/null can be used. The default behaviour of putting every
// nullable value behind a pointer has a bigger overhead. A NaN value
// marks a sample as non-numeric.
type Float float64

var NaN Float = Float(math.NaN())

func (f Float) IsNaN() bool {
	return math.IsNaN(float64(f))
}

// String returns the canonical text form of the value,
// the empty string for NaN.
func (f Float) String() string {
	if f.IsNaN() {
		return ""
	}

	return strconv.FormatFloat(float64(f), 'g', -1, 64)
}

// NaN will be serialized to `null`.
func (f Float) MarshalJSON() ([]byte, error) {
	if f.IsNaN() {
		return []byte("null"), nil
	}

	return []byte(strconv.FormatFloat(float64(f), 'g', -1, 64)), nil
}

// `null` will be unserialized to NaN.
func (f *Float) UnmarshalJSON(input []byte) error {
	s := string(input)
	if s == "null" {
		*f = NaN
		return nil
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = Float(val)
	return nil
}
