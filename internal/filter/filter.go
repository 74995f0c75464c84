// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package filter holds the per-tag value filters of the historian:
// the exception filter gates snapshot updates, the compression filter
// (a swinging-door state machine) gates archive writes. Both are plain
// state machines without locking; the owning tag serializes access.
package filter

import (
	"math"

	"github.com/lulzzz/aika/pkg/schema"
)

// Deviation resolves a filter limit against a base value. The base is
// the last significant value for the exception test and the incoming
// value for fresh compression slope limits.
func Deviation(base float64, s schema.FilterSettings) float64 {
	switch s.LimitType {
	case schema.LimitFraction:
		return math.Abs(base) * s.Limit
	case schema.LimitPercentage:
		return math.Abs(base) * s.Limit / 100
	default:
		return s.Limit
	}
}

func sameNumeric(a, b schema.Float) bool {
	if a.IsNaN() || b.IsNaN() {
		return a.IsNaN() && b.IsNaN()
	}
	return a == b
}
