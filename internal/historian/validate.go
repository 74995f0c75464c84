// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package historian

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/lulzzz/aika/pkg/schema"
)

// validateValue canonicalizes an incoming sample against the tag's
// data type, or rejects it. The returned sample is the one that enters
// the filter pipeline.
func (t *Tag) validateValue(ctx context.Context, v schema.TagValue) (schema.TagValue, error) {
	if v.Time.IsZero() {
		return v, fmt.Errorf("%w: sample without instant", schema.ErrInvalidArgument)
	}
	switch v.Quality {
	case "":
		v.Quality = schema.QualityGood
	case schema.QualityGood, schema.QualityUncertain, schema.QualityBad:
	default:
		return v, fmt.Errorf("%w: unknown quality '%s'", schema.ErrInvalidArgument, v.Quality)
	}
	v.Time = v.Time.UTC()

	t.stateMu.RLock()
	dataType := t.dataType
	units := t.units
	stateSetName := t.stateSetName
	t.stateMu.RUnlock()

	switch dataType {
	case schema.TypeInteger:
		if !v.IsNumeric() {
			return v, fmt.Errorf("%w: integer tag needs a numeric value", schema.ErrInvalidArgument)
		}
		n := truncInt32(float64(v.Value))
		v.Value = schema.Float(n)
		v.Text = strconv.FormatInt(int64(n), 10)
		v.Units = units
		return v, nil

	case schema.TypeText:
		v.Value = schema.NaN
		v.Units = ""
		return v, nil

	case schema.TypeState:
		set, err := t.resolveStateSet(ctx, stateSetName)
		if err != nil {
			return v, fmt.Errorf("%w: state set '%s'", schema.ErrInvalidArgument, stateSetName)
		}
		st, ok := set.StateByName(v.Text)
		if !ok && v.IsNumeric() {
			st, ok = set.StateByValue(truncInt32(float64(v.Value)))
		}
		if !ok {
			return v, fmt.Errorf("%w: no state matches text '%s' or value %s",
				schema.ErrInvalidArgument, v.Text, v.Value.String())
		}
		v.Value = schema.Float(st.Value)
		v.Text = st.Name
		v.Units = ""
		return v, nil

	default: // FloatingPoint
		if v.IsNumeric() {
			v.Text = v.Value.String()
		}
		v.Units = units
		return v, nil
	}
}

// truncInt32 truncates toward zero and clamps to the int32 range.
func truncInt32(f float64) int32 {
	f = math.Trunc(f)
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int32(f)
}
