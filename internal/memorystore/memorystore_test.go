// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package memorystore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/pkg/schema"
)

var epoch = time.Date(2023, 5, 4, 12, 0, 0, 0, time.UTC)

func numAt(sec int, value float64) schema.TagValue {
	return schema.NewNumericValue(epoch.Add(time.Duration(sec)*time.Second), value, schema.QualityGood, "")
}

func testStore(t *testing.T, names ...string) *MemoryStore {
	t.Helper()
	ms := New()
	require.NoError(t, ms.Init(context.Background()))
	for i, name := range names {
		def := &schema.TagDefinition{
			ID:       fmt.Sprintf("id-%d", i),
			Name:     name,
			DataType: schema.TypeFloat,
		}
		require.NoError(t, ms.CreateTag(context.Background(), historian.System, def))
	}
	return ms
}

func TestWildcardRegexp(t *testing.T) {
	cases := []struct {
		pattern, input string
		match          bool
	}{
		{"*", "anything", true},
		{"plant.*", "Plant.Flow", true},
		{"plant.?low", "plant.flow", true},
		{"plant.?low", "plant.fflow", false},
		{"a+b", "a+b", true},
		{"a+b", "aab", false},
		{"[x]", "[x]", true},
	}
	for _, c := range cases {
		re, err := wildcardRegexp(c.pattern)
		require.NoError(t, err, c.pattern)
		assert.Equal(t, c.match, re.MatchString(c.input), "%s vs %s", c.pattern, c.input)
	}
}

func TestFindTagsSortedAndPaged(t *testing.T) {
	ms := testStore(t, "delta", "Alpha", "charlie", "bravo")
	ctx := context.Background()

	filter := &schema.TagSearchFilter{}
	require.NoError(t, filter.Normalize())
	defs, err := ms.FindTags(ctx, historian.System, filter)
	require.NoError(t, err)
	require.Len(t, defs, 4)
	assert.Equal(t, "Alpha", defs[0].Name)
	assert.Equal(t, "bravo", defs[1].Name)

	filter = &schema.TagSearchFilter{Page: 2, PageSize: 3}
	require.NoError(t, filter.Normalize())
	defs, err = ms.FindTags(ctx, historian.System, filter)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "delta", defs[0].Name)

	// Out-of-range pages return empty collections, not errors.
	filter = &schema.TagSearchFilter{Page: 9, PageSize: 10}
	require.NoError(t, filter.Normalize())
	defs, err = ms.FindTags(ctx, historian.System, filter)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestFindTagsJoin(t *testing.T) {
	ms := New()
	require.NoError(t, ms.Init(context.Background()))
	ctx := context.Background()
	require.NoError(t, ms.CreateTag(ctx, historian.System, &schema.TagDefinition{
		ID: "1", Name: "Flow", Units: "l/min", DataType: schema.TypeFloat,
	}))
	require.NoError(t, ms.CreateTag(ctx, historian.System, &schema.TagDefinition{
		ID: "2", Name: "Level", Units: "m", DataType: schema.TypeFloat,
	}))

	and := &schema.TagSearchFilter{
		Clauses: []schema.SearchClause{
			{Field: schema.SearchName, Pattern: "f*"},
			{Field: schema.SearchUnits, Pattern: "l/*"},
		},
		Join: schema.JoinAnd,
	}
	require.NoError(t, and.Normalize())
	defs, err := ms.FindTags(ctx, historian.System, and)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Flow", defs[0].Name)

	or := &schema.TagSearchFilter{
		Clauses: []schema.SearchClause{
			{Field: schema.SearchName, Pattern: "f*"},
			{Field: schema.SearchUnits, Pattern: "m"},
		},
		Join: schema.JoinOr,
	}
	require.NoError(t, or.Normalize())
	defs, err = ms.FindTags(ctx, historian.System, or)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestInsertArchiveKeepsSeriesSorted(t *testing.T) {
	ms := testStore(t, "Plant.Flow")
	ctx := context.Background()

	_, err := ms.InsertArchiveValues(ctx, "id-0", []schema.TagValue{numAt(10, 1), numAt(30, 3)}, nil)
	require.NoError(t, err)

	// Predating insert is re-sorted in.
	_, err = ms.InsertArchiveValues(ctx, "id-0", []schema.TagValue{numAt(20, 2), numAt(0, 0)}, nil)
	require.NoError(t, err)

	// Equal instant: the new sample replaces the old one.
	_, err = ms.InsertArchiveValues(ctx, "id-0", []schema.TagValue{numAt(20, 99)}, nil)
	require.NoError(t, err)

	raw, err := ms.ReadRaw(ctx, historian.System, "id-0", time.Time{}, epoch.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, raw, 4)
	assert.True(t, raw[0].Equals(numAt(0, 0)))
	assert.True(t, raw[1].Equals(numAt(10, 1)))
	assert.True(t, raw[2].Equals(numAt(20, 99)))
	assert.True(t, raw[3].Equals(numAt(30, 3)))
}

func TestReadRawBoundsAndCap(t *testing.T) {
	ms := New(WithMaxRawSamples(3))
	require.NoError(t, ms.Init(context.Background()))
	ctx := context.Background()
	require.NoError(t, ms.CreateTag(ctx, historian.System, &schema.TagDefinition{
		ID: "id-0", Name: "Plant.Flow", DataType: schema.TypeFloat,
	}))

	var batch []schema.TagValue
	for i := 0; i < 10; i++ {
		batch = append(batch, numAt(i, float64(i)))
	}
	_, err := ms.InsertArchiveValues(ctx, "id-0", batch, nil)
	require.NoError(t, err)

	// Range bounds are inclusive.
	raw, err := ms.ReadRaw(ctx, historian.System, "id-0", epoch.Add(2*time.Second), epoch.Add(4*time.Second), 0)
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.True(t, raw[0].Equals(numAt(2, 2)))
	assert.True(t, raw[2].Equals(numAt(4, 4)))

	// The configured cap applies before any client point count.
	raw, err = ms.ReadRaw(ctx, historian.System, "id-0", time.Time{}, epoch.Add(time.Hour), 100)
	require.NoError(t, err)
	assert.Len(t, raw, 3)

	// A smaller point count narrows further.
	raw, err = ms.ReadRaw(ctx, historian.System, "id-0", time.Time{}, epoch.Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, raw, 2)

	// Unknown tags read as empty, not as errors.
	raw, err = ms.ReadRaw(ctx, historian.System, "nope", time.Time{}, epoch.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestArchiveCandidatePersisted(t *testing.T) {
	ms := testStore(t, "Plant.Flow")
	ctx := context.Background()

	cand := numAt(42, 4.2)
	_, err := ms.InsertArchiveValues(ctx, "id-0", []schema.TagValue{numAt(0, 0)}, &cand)
	require.NoError(t, err)

	got, err := ms.ReadArchiveCandidate(ctx, "id-0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equals(cand))
}

func TestTrimArchiveBefore(t *testing.T) {
	ms := testStore(t, "Plant.Flow")
	ctx := context.Background()

	var batch []schema.TagValue
	for i := 0; i < 10; i++ {
		batch = append(batch, numAt(i, float64(i)))
	}
	_, err := ms.InsertArchiveValues(ctx, "id-0", batch, nil)
	require.NoError(t, err)

	removed := ms.TrimArchiveBefore(epoch.Add(5 * time.Second))
	assert.Equal(t, 5, removed)

	raw, err := ms.ReadRaw(ctx, historian.System, "id-0", time.Time{}, epoch.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, raw, 5)
	assert.True(t, raw[0].Equals(numAt(5, 5)))
}

func TestDuplicateTagNameRejected(t *testing.T) {
	ms := testStore(t, "Plant.Flow")

	err := ms.CreateTag(context.Background(), historian.System, &schema.TagDefinition{
		ID: "other", Name: "plant.flow", DataType: schema.TypeFloat,
	})
	assert.ErrorIs(t, err, schema.ErrInvalidArgument)
}
