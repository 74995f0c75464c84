// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package filter

import (
	"math"
	"time"

	"github.com/lulzzz/aika/pkg/schema"
)

// CompressionFilter implements swinging-door compression: of the
// stream of snapshot-accepted samples it picks the ones that must be
// archived so that the archived series, linearly interpolated, stays
// within the configured limit of every sample it saw.
//
// The corridor is the intersection of all deviation cones projected
// from the samples received since the last archived one. Its min/max
// are stored as values at the instant of the last received sample and
// extrapolated along the line from the last archived sample.
type CompressionFilter struct {
	settings schema.FilterSettings

	// Last sample handed to the archive.
	lastArchived *schema.TagValue
	// Last sample received; the current archive candidate.
	lastReceived *schema.TagValue
	// Corridor values at lastReceived.Time.
	compressionMin float64
	compressionMax float64
}

func NewCompressionFilter(settings schema.FilterSettings) *CompressionFilter {
	return &CompressionFilter{
		settings:       settings,
		compressionMin: math.Inf(-1),
		compressionMax: math.Inf(1),
	}
}

func (f *CompressionFilter) Settings() schema.FilterSettings {
	return f.settings
}

// SetSettings swaps the configuration while keeping the runtime state
// (last archived sample, candidate, corridor) intact.
func (f *CompressionFilter) SetSettings(settings schema.FilterSettings) {
	f.settings = settings
}

func (f *CompressionFilter) LastArchived() *schema.TagValue {
	return f.lastArchived
}

// Candidate is the sample that will be archived next if the filter
// accepts; it is persisted alongside archive batches so a restarted
// historian can continue filtering.
func (f *CompressionFilter) Candidate() *schema.TagValue {
	return f.lastReceived
}

// Corridor returns the current min/max slope limits at the candidate's
// instant.
func (f *CompressionFilter) Corridor() (min, max float64) {
	return f.compressionMin, f.compressionMax
}

// Prime seeds the filter after a restart from the persisted last
// archived sample and archive candidate. The corridor restarts as the
// candidate's own deviation cone.
func (f *CompressionFilter) Prime(lastArchived, candidate *schema.TagValue) {
	f.lastArchived = lastArchived
	f.lastReceived = candidate
	if candidate != nil {
		f.compressionMin, f.compressionMax = f.freshLimits(*candidate)
	}
}

// Process absorbs one snapshot-accepted sample. On accept the held
// candidate is returned for archiving and the door re-anchors at v;
// on reject the corridor tightens and v becomes the new candidate.
func (f *CompressionFilter) Process(v schema.TagValue, tagFiltering bool) (archive []schema.TagValue) {
	newMin, newMax := f.freshLimits(v)

	if f.test(v, tagFiltering) {
		if f.lastReceived != nil {
			archive = []schema.TagValue{*f.lastReceived}
			f.lastArchived = f.lastReceived
		}
		f.lastReceived = &v
		// A fresh archived point re-anchors the door, the previous
		// corridor is discarded entirely.
		f.compressionMin, f.compressionMax = newMin, newMax
		return archive
	}

	// The stored corridor is valued at the old candidate's instant;
	// carry it forward to v's instant before intersecting with the
	// fresh cone, since v becomes the new anchor of the stored values.
	yMin, yMax := f.corridorAt(v.Time)
	f.compressionMax = math.Min(yMax, newMax)
	f.compressionMin = math.Max(yMin, newMin)
	f.lastReceived = &v
	return nil
}

// corridorAt extrapolates the corridor from the archived anchor
// through the stored limits at the candidate's instant.
func (f *CompressionFilter) corridorAt(t time.Time) (yMin, yMax float64) {
	archived, last := f.lastArchived, f.lastReceived
	ratio := t.Sub(archived.Time).Seconds() / last.Time.Sub(archived.Time).Seconds()
	base := float64(archived.Value)
	yMin = base + ratio*(f.compressionMin-base)
	yMax = base + ratio*(f.compressionMax-base)
	return yMin, yMax
}

func (f *CompressionFilter) test(v schema.TagValue, tagFiltering bool) bool {
	if !tagFiltering || !f.settings.Enabled {
		return true
	}

	last := f.lastReceived
	archived := f.lastArchived
	if last == nil || archived == nil {
		return true
	}
	if !last.Time.After(archived.Time) {
		// Degenerate anchor pair, no slope to extrapolate.
		return true
	}
	if v.Time.Sub(archived.Time) > f.settings.WindowSize.Unwrap() {
		return true
	}
	if v.Quality != last.Quality {
		return true
	}
	if !v.IsNumeric() && !last.IsNumeric() && v.Text != last.Text {
		return true
	}
	if v.IsNumeric() != last.IsNumeric() {
		return true
	}
	if math.IsNaN(f.compressionMin) || math.IsNaN(f.compressionMax) {
		return true
	}

	yMin, yMax := f.corridorAt(v.Time)
	return float64(v.Value) < yMin || float64(v.Value) > yMax
}

// freshLimits is the deviation cone of a single sample, evaluated at
// its own instant. Non-numeric samples leave the corridor wide open so
// the next numeric sample always passes.
func (f *CompressionFilter) freshLimits(v schema.TagValue) (min, max float64) {
	if !v.IsNumeric() {
		return math.Inf(-1), math.Inf(1)
	}
	dev := Deviation(float64(v.Value), f.settings)
	return float64(v.Value) - dev, float64(v.Value) + dev
}
