// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregation computes the built-in data functions (INTERP,
// PLOT, AVG, MIN, MAX) over raw archived samples. The historian uses
// it whenever the backend has no native support for a function.
//
// All functions partition [start, end] into equal buckets of width
// interval. Trailing-edge results are stamped at their bucket's end;
// the bucket ending at `start` is the leading bucket, which is why
// callers must supply raw data from start−interval on.
package aggregation

import (
	"sort"
	"time"

	"github.com/lulzzz/aika/pkg/schema"
)

// Supports reports whether fn can be computed locally.
func Supports(fn schema.DataFunction) bool {
	switch fn {
	case schema.FnInterp, schema.FnPlot, schema.FnAvg, schema.FnMin, schema.FnMax:
		return true
	}
	return false
}

// Process computes fn over raw. The raw slice must be sorted by
// instant and should span [start−interval, end]. For discrete-state
// tags AVG/MIN/MAX fall back to most-recent-state-in-bucket.
func Process(fn schema.DataFunction, raw []schema.TagValue, start, end time.Time, interval time.Duration, stateTag bool) schema.ProcessedSeries {
	if interval <= 0 || end.Before(start) {
		return schema.ProcessedSeries{Values: []schema.TagValue{}, Hint: schema.HintTrailingEdge}
	}
	sorted := append([]schema.TagValue(nil), raw...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	switch fn {
	case schema.FnInterp:
		return schema.ProcessedSeries{
			Values: interp(sorted, start, end, interval),
			Hint:   schema.HintInterpolated,
		}
	case schema.FnPlot:
		return schema.ProcessedSeries{
			Values: plot(sorted, start, end, interval),
			Hint:   schema.HintInterpolated,
		}
	case schema.FnAvg, schema.FnMin, schema.FnMax:
		if stateTag {
			return schema.ProcessedSeries{
				Values: trailingState(sorted, start, end, interval),
				Hint:   schema.HintTrailingEdge,
			}
		}
		return schema.ProcessedSeries{
			Values: buckets(fn, sorted, start, end, interval),
			Hint:   schema.HintTrailingEdge,
		}
	}
	return schema.ProcessedSeries{Values: []schema.TagValue{}, Hint: schema.HintTrailingEdge}
}

// interp emits a linearly interpolated sample at every bucket boundary
// that has raw neighbours on both sides. Non-numeric neighbours
// degrade to a step on the preceding sample.
func interp(raw []schema.TagValue, start, end time.Time, interval time.Duration) []schema.TagValue {
	out := []schema.TagValue{}
	for t := start; !t.After(end); t = t.Add(interval) {
		before, after := neighbours(raw, t)
		if before == nil || after == nil {
			continue
		}
		if before.Time.Equal(t) {
			out = append(out, *before)
			continue
		}
		if !before.IsNumeric() || !after.IsNumeric() {
			step := *before
			step.Time = t
			out = append(out, step)
			continue
		}

		ratio := t.Sub(before.Time).Seconds() / after.Time.Sub(before.Time).Seconds()
		value := float64(before.Value) + ratio*(float64(after.Value)-float64(before.Value))
		quality := schema.QualityUncertain
		if before.Quality == schema.QualityGood && after.Quality == schema.QualityGood {
			quality = schema.QualityGood
		}
		out = append(out, schema.NewNumericValue(t, value, quality, before.Units))
	}
	return out
}

// neighbours finds the latest sample at or before t and the earliest
// at or after t.
func neighbours(raw []schema.TagValue, t time.Time) (before, after *schema.TagValue) {
	idx := sort.Search(len(raw), func(i int) bool {
		return !raw[i].Time.Before(t)
	})
	if idx < len(raw) {
		after = &raw[idx]
	}
	if idx < len(raw) && raw[idx].Time.Equal(t) {
		return &raw[idx], after
	}
	if idx > 0 {
		before = &raw[idx-1]
	}
	return before, after
}

// plot emits open, close, min and max of every bucket, deduplicated by
// instant.
func plot(raw []schema.TagValue, start, end time.Time, interval time.Duration) []schema.TagValue {
	out := []schema.TagValue{}
	for t := start.Add(-interval); t.Before(end); t = t.Add(interval) {
		bucketEnd := t.Add(interval)
		samples := slice(raw, t, bucketEnd)
		if len(samples) == 0 {
			continue
		}

		picked := []schema.TagValue{samples[0], samples[len(samples)-1]}
		lo, hi := -1, -1
		for i, s := range samples {
			if !s.IsNumeric() {
				continue
			}
			if lo < 0 || s.Value < samples[lo].Value {
				lo = i
			}
			if hi < 0 || s.Value > samples[hi].Value {
				hi = i
			}
		}
		if lo >= 0 {
			picked = append(picked, samples[lo])
		}
		if hi >= 0 {
			picked = append(picked, samples[hi])
		}

		for _, p := range picked {
			if !containsInstant(out, p.Time) {
				out = append(out, p)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func containsInstant(values []schema.TagValue, t time.Time) bool {
	for _, v := range values {
		if v.Time.Equal(t) {
			return true
		}
	}
	return false
}

// slice returns the samples with instant in (from, to].
func slice(raw []schema.TagValue, from, to time.Time) []schema.TagValue {
	lo := sort.Search(len(raw), func(i int) bool { return raw[i].Time.After(from) })
	hi := sort.Search(len(raw), func(i int) bool { return raw[i].Time.After(to) })
	return raw[lo:hi]
}

// buckets computes AVG, MIN or MAX per bucket. Buckets cover
// (t−interval, t] and the result is stamped at the trailing edge t.
// Non-numeric samples are excluded; an empty bucket carries the
// persisting previous value forward.
func buckets(fn schema.DataFunction, raw []schema.TagValue, start, end time.Time, interval time.Duration) []schema.TagValue {
	out := []schema.TagValue{}
	for t := start; !t.After(end); t = t.Add(interval) {
		var v schema.TagValue
		var ok bool
		switch fn {
		case schema.FnAvg:
			v, ok = timeWeightedMean(raw, t.Add(-interval), t)
		case schema.FnMin:
			v, ok = extremum(raw, t.Add(-interval), t, true)
		case schema.FnMax:
			v, ok = extremum(raw, t.Add(-interval), t, false)
		}
		if ok {
			v.Time = t
			out = append(out, v)
		}
	}
	return out
}

// timeWeightedMean treats each sample as persisting until the next
// one and integrates over (from, to]. Non-numeric stretches carry no
// weight.
func timeWeightedMean(raw []schema.TagValue, from, to time.Time) (schema.TagValue, bool) {
	current := lastAtOrBefore(raw, from)
	inside := slice(raw, from, to)

	var weighted, seconds float64
	var quality schema.Quality = schema.QualityGood
	cursor := from
	segment := func(until time.Time, v *schema.TagValue) {
		if v == nil || !v.IsNumeric() {
			return
		}
		w := until.Sub(cursor).Seconds()
		weighted += float64(v.Value) * w
		seconds += w
		if v.Quality != schema.QualityGood {
			quality = schema.QualityUncertain
		}
	}

	for i := range inside {
		segment(inside[i].Time, current)
		cursor = inside[i].Time
		current = &inside[i]
	}
	segment(to, current)

	if seconds <= 0 {
		return schema.TagValue{}, false
	}
	units := ""
	if current != nil {
		units = current.Units
	}
	return schema.NewNumericValue(to, weighted/seconds, quality, units), true
}

// extremum picks the smallest or largest numeric sample in
// (from, to]; an empty bucket degrades to the persisting value.
func extremum(raw []schema.TagValue, from, to time.Time, min bool) (schema.TagValue, bool) {
	inside := slice(raw, from, to)
	var best *schema.TagValue
	for i := range inside {
		s := &inside[i]
		if !s.IsNumeric() {
			continue
		}
		if best == nil || (min && s.Value < best.Value) || (!min && s.Value > best.Value) {
			best = s
		}
	}
	if best == nil {
		prev := lastAtOrBefore(raw, from)
		if prev == nil || !prev.IsNumeric() {
			return schema.TagValue{}, false
		}
		best = prev
	}
	return *best, true
}

// trailingState reports the most recent state per bucket.
func trailingState(raw []schema.TagValue, start, end time.Time, interval time.Duration) []schema.TagValue {
	out := []schema.TagValue{}
	for t := start; !t.After(end); t = t.Add(interval) {
		inside := slice(raw, t.Add(-interval), t)
		var pick *schema.TagValue
		if len(inside) > 0 {
			pick = &inside[len(inside)-1]
		} else {
			pick = lastAtOrBefore(raw, t)
		}
		if pick == nil {
			continue
		}
		v := *pick
		v.Time = t
		out = append(out, v)
	}
	return out
}

// lastAtOrBefore returns the latest sample with instant ≤ t.
func lastAtOrBefore(raw []schema.TagValue, t time.Time) *schema.TagValue {
	idx := sort.Search(len(raw), func(i int) bool { return raw[i].Time.After(t) })
	if idx == 0 {
		return nil
	}
	return &raw[idx-1]
}
