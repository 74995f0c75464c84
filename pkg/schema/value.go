// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"time"
)

// Quality describes how trustworthy a sample is.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityUncertain Quality = "uncertain"
	QualityBad       Quality = "bad"
)

func (q Quality) Valid() bool {
	return q == QualityGood || q == QualityUncertain || q == QualityBad
}

// TagValue is a single timestamped sample of a tag. Values are
// immutable once constructed; the write path always builds new ones.
//
// Value is NaN for non-numeric (text only) samples. Text is always
// present and defaults to the canonical string form of Value.
type TagValue struct {
	Time    time.Time `json:"time"`
	Value   Float     `json:"value"`
	Text    string    `json:"text"`
	Quality Quality   `json:"quality"`
	Units   string    `json:"units,omitempty"`
}

// NewNumericValue builds a numeric sample with the canonical text form.
func NewNumericValue(t time.Time, value float64, quality Quality, units string) TagValue {
	v := Float(value)
	return TagValue{
		Time:    t.UTC(),
		Value:   v,
		Text:    v.String(),
		Quality: quality,
		Units:   units,
	}
}

// NewTextValue builds a non-numeric sample.
func NewTextValue(t time.Time, text string, quality Quality) TagValue {
	return TagValue{
		Time:    t.UTC(),
		Value:   NaN,
		Text:    text,
		Quality: quality,
	}
}

// UnauthorizedValue is the sentinel sample reported for tags the
// caller may not read.
func UnauthorizedValue(t time.Time) TagValue {
	return TagValue{
		Time:    t.UTC(),
		Value:   NaN,
		Text:    "Unauthorized",
		Quality: QualityBad,
	}
}

// UnsupportedValue is the sentinel sample reported when a data function
// can be computed neither natively nor locally.
func UnsupportedValue(t time.Time, fn string) TagValue {
	return TagValue{
		Time:    t.UTC(),
		Value:   NaN,
		Text:    "Unsupported data function: " + fn,
		Quality: QualityBad,
	}
}

func (v TagValue) IsNumeric() bool {
	return !v.Value.IsNaN()
}

// Equals reports sample identity: equal instant, numeric value
// (NaN equals NaN here), text and quality. Units are advisory and
// not part of identity.
func (v TagValue) Equals(o TagValue) bool {
	if !v.Time.Equal(o.Time) || v.Text != o.Text || v.Quality != o.Quality {
		return false
	}
	if v.Value.IsNaN() || o.Value.IsNaN() {
		return v.Value.IsNaN() && o.Value.IsNaN()
	}
	return v.Value == o.Value
}
