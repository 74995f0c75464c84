// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package filter

import (
	"github.com/lulzzz/aika/pkg/schema"
)

// ExceptionFilter decides whether an incoming sample differs from the
// last significant sample enough to become the tag's new snapshot.
type ExceptionFilter struct {
	settings schema.FilterSettings

	// Most recent sample that passed the filter.
	lastException *schema.TagValue
	// Most recent sample observed, regardless of outcome.
	lastReceived *schema.TagValue
}

func NewExceptionFilter(settings schema.FilterSettings) *ExceptionFilter {
	return &ExceptionFilter{settings: settings}
}

func (f *ExceptionFilter) Settings() schema.FilterSettings {
	return f.settings
}

// SetSettings swaps the configuration while keeping the runtime state
// (last exception, last received) intact.
func (f *ExceptionFilter) SetSettings(settings schema.FilterSettings) {
	f.settings = settings
}

func (f *ExceptionFilter) LastException() *schema.TagValue {
	return f.lastException
}

func (f *ExceptionFilter) LastReceived() *schema.TagValue {
	return f.lastReceived
}

// Prime seeds the filter state after a restart so that filtering
// continues from the persisted snapshot.
func (f *ExceptionFilter) Prime(snapshot *schema.TagValue) {
	f.lastException = snapshot
	f.lastReceived = snapshot
}

// Process runs one sample through the filter. On accept it returns the
// samples the snapshot path must emit downstream: the incoming sample,
// preceded by the last unseen sample before the jump when one exists.
// That prior sample lets the compression filter draw the correct slope.
func (f *ExceptionFilter) Process(v schema.TagValue, tagFiltering bool) (emit []schema.TagValue, accepted bool) {
	if !f.test(v, tagFiltering) {
		f.lastReceived = &v
		return nil, false
	}

	prev := f.lastException
	carry := f.lastReceived
	f.lastException = &v
	f.lastReceived = &v

	if carry != nil && (prev == nil || !carry.Equals(*prev)) && !sameNumeric(carry.Value, v.Value) {
		return []schema.TagValue{*carry, v}, true
	}
	return []schema.TagValue{v}, true
}

// test applies the acceptance rules in order; the first matching rule
// wins.
func (f *ExceptionFilter) test(v schema.TagValue, tagFiltering bool) bool {
	last := f.lastException
	if last == nil {
		return true
	}
	if v.Time.Before(last.Time) {
		// Stale sample.
		return false
	}
	if !tagFiltering || !f.settings.Enabled {
		return true
	}
	if v.Time.Sub(last.Time) > f.settings.WindowSize.Unwrap() {
		// The last significant sample is older than the window,
		// pass unconditionally.
		return true
	}
	if v.Quality != last.Quality {
		return true
	}
	if !v.IsNumeric() {
		return v.Text != last.Text
	}
	if !last.IsNumeric() {
		return true
	}

	dev := Deviation(float64(last.Value), f.settings)
	return float64(v.Value) < float64(last.Value)-dev ||
		float64(v.Value) > float64(last.Value)+dev
}
