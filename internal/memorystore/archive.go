// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package memorystore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/pkg/schema"
)

// InsertArchiveValues merges one batch into the stored series and
// persists the next archive candidate. The series stays sorted even
// when inserts predate existing samples; at equal instants the new
// sample replaces the old one.
func (ms *MemoryStore) InsertArchiveValues(ctx context.Context, tagID string, batch []schema.TagValue, nextCandidate *schema.TagValue) (schema.WriteResult, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	e, ok := ms.tags[tagID]
	if !ok {
		return schema.WriteResult{}, fmt.Errorf("%w: tag '%s'", schema.ErrNotFound, tagID)
	}

	var res schema.WriteResult
	for _, v := range batch {
		e.series = insertSorted(e.series, v)
		res.SampleCount++
		res.Observe(v.Time)
	}
	if nextCandidate != nil {
		c := *nextCandidate
		e.candidate = &c
	}
	return res, nil
}

// insertSorted places v into the series, keeping instant order.
// An existing sample at the same instant is replaced.
func insertSorted(series []schema.TagValue, v schema.TagValue) []schema.TagValue {
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].Time.Before(v.Time)
	})
	if idx < len(series) && series[idx].Time.Equal(v.Time) {
		series[idx] = v
		return series
	}
	series = append(series, schema.TagValue{})
	copy(series[idx+1:], series[idx:])
	series[idx] = v
	return series
}

// ReadRaw returns the archived samples in [start, end], oldest first.
// A zero start means unbounded; the result is capped at pointCount or
// the store's configured maximum, whichever is smaller.
func (ms *MemoryStore) ReadRaw(ctx context.Context, caller historian.Caller, tagID string, start, end time.Time, pointCount int) ([]schema.TagValue, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	e, ok := ms.tags[tagID]
	if !ok {
		return []schema.TagValue{}, nil
	}

	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(e.series), func(i int) bool {
			return !e.series[i].Time.Before(start)
		})
	}
	hi := sort.Search(len(e.series), func(i int) bool {
		return e.series[i].Time.After(end)
	})
	if lo >= hi {
		return []schema.TagValue{}, nil
	}

	limit := ms.maxRawSamples
	if pointCount > 0 && pointCount < limit {
		limit = pointCount
	}
	if hi-lo > limit {
		hi = lo + limit
	}
	return append([]schema.TagValue(nil), e.series[lo:hi]...), nil
}

// ReadArchiveCandidate returns the candidate stored by the last
// archive insert, or nil.
func (ms *MemoryStore) ReadArchiveCandidate(ctx context.Context, tagID string) (*schema.TagValue, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	e, ok := ms.tags[tagID]
	if !ok || e.candidate == nil {
		return nil, nil
	}
	v := *e.candidate
	return &v, nil
}

// ReadProcessedNative is unsupported; the historian aggregates
// locally.
func (ms *MemoryStore) ReadProcessedNative(ctx context.Context, caller historian.Caller, tagID string, fn schema.DataFunction, start, end time.Time, interval time.Duration) (*schema.ProcessedSeries, error) {
	return nil, fmt.Errorf("%w: data function %s", schema.ErrUnsupported, fn)
}

func (ms *MemoryStore) SupportsDataFunction(fn schema.DataFunction) bool {
	return false
}

// TrimArchiveBefore drops archived samples older than cutoff and
// returns how many were removed. Used by the retention task.
func (ms *MemoryStore) TrimArchiveBefore(cutoff time.Time) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	removed := 0
	for _, e := range ms.tags {
		idx := sort.Search(len(e.series), func(i int) bool {
			return !e.series[i].Time.Before(cutoff)
		})
		if idx > 0 {
			removed += idx
			e.series = append([]schema.TagValue(nil), e.series[idx:]...)
		}
	}
	return removed
}
