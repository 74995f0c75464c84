// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package historian

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lulzzz/aika/internal/metrics"
	"github.com/lulzzz/aika/pkg/schema"
)

var epoch = time.Date(2023, 5, 4, 12, 0, 0, 0, time.UTC)

func numAt(sec int, value float64) schema.TagValue {
	return schema.NewNumericValue(epoch.Add(time.Duration(sec)*time.Second), value, schema.QualityGood, "")
}

// fakeBackend records archive inserts and answers everything else
// with empty results.
type fakeBackend struct {
	mu      sync.Mutex
	inserts []insertCall
}

type insertCall struct {
	tagID     string
	batch     []schema.TagValue
	candidate *schema.TagValue
}

func (fb *fakeBackend) insertCalls() []insertCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]insertCall(nil), fb.inserts...)
}

func (fb *fakeBackend) Init(ctx context.Context) error { return nil }

func (fb *fakeBackend) CanRead(ctx context.Context, caller Caller, tagIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(tagIDs))
	for _, id := range tagIDs {
		out[id] = true
	}
	return out, nil
}

func (fb *fakeBackend) CanWrite(ctx context.Context, caller Caller, tagIDs []string) (map[string]bool, error) {
	return fb.CanRead(ctx, caller, tagIDs)
}

func (fb *fakeBackend) ListTags(ctx context.Context) ([]*schema.TagDefinition, error) {
	return nil, nil
}

func (fb *fakeBackend) FindTags(ctx context.Context, caller Caller, filter *schema.TagSearchFilter) ([]*schema.TagDefinition, error) {
	return nil, nil
}

func (fb *fakeBackend) CreateTag(ctx context.Context, caller Caller, def *schema.TagDefinition) error {
	return nil
}

func (fb *fakeBackend) UpdateTag(ctx context.Context, caller Caller, def *schema.TagDefinition) error {
	return nil
}

func (fb *fakeBackend) DeleteTag(ctx context.Context, caller Caller, tagID string) error {
	return nil
}

func (fb *fakeBackend) FindStateSets(ctx context.Context, caller Caller, pattern string) ([]*schema.StateSet, error) {
	return nil, nil
}

func (fb *fakeBackend) GetStateSet(ctx context.Context, caller Caller, name string) (*schema.StateSet, error) {
	return nil, fmt.Errorf("%w: state set '%s'", schema.ErrNotFound, name)
}

func (fb *fakeBackend) CreateStateSet(ctx context.Context, caller Caller, set *schema.StateSet) error {
	return nil
}

func (fb *fakeBackend) UpdateStateSet(ctx context.Context, caller Caller, set *schema.StateSet) error {
	return nil
}

func (fb *fakeBackend) DeleteStateSet(ctx context.Context, caller Caller, name string) error {
	return nil
}

func (fb *fakeBackend) ReadRaw(ctx context.Context, caller Caller, tagID string, start, end time.Time, pointCount int) ([]schema.TagValue, error) {
	return nil, nil
}

func (fb *fakeBackend) ReadProcessedNative(ctx context.Context, caller Caller, tagID string, fn schema.DataFunction, start, end time.Time, interval time.Duration) (*schema.ProcessedSeries, error) {
	return nil, schema.ErrUnsupported
}

func (fb *fakeBackend) SupportsDataFunction(fn schema.DataFunction) bool { return false }

func (fb *fakeBackend) InsertArchiveValues(ctx context.Context, tagID string, batch []schema.TagValue, nextCandidate *schema.TagValue) (schema.WriteResult, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.inserts = append(fb.inserts, insertCall{
		tagID:     tagID,
		batch:     append([]schema.TagValue(nil), batch...),
		candidate: nextCandidate,
	})
	return schema.WriteResult{SampleCount: len(batch)}, nil
}

func (fb *fakeBackend) ReadArchiveCandidate(ctx context.Context, tagID string) (*schema.TagValue, error) {
	return nil, nil
}

func (fb *fakeBackend) SaveSnapshot(ctx context.Context, tagID string, v schema.TagValue) error {
	return nil
}

func (fb *fakeBackend) ReadSnapshot(ctx context.Context, tagID string) (*schema.TagValue, error) {
	return nil, nil
}

func testTag(t *testing.T, def *schema.TagDefinition, fb *fakeBackend) *Tag {
	t.Helper()
	if def.ID == "" {
		def.ID = "tag-under-test"
	}
	if def.Name == "" {
		def.Name = "Test.Tag"
	}
	if def.DataType == "" {
		def.DataType = schema.TypeFloat
	}
	return newTag(def, tagDeps{
		backend:   fb,
		met:       metrics.New(nil),
		lifecycle: context.Background(),
		resolveStateSet: func(ctx context.Context, name string) (*schema.StateSet, error) {
			if name == "machine-status" {
				return &schema.StateSet{
					Name:   "machine-status",
					States: []schema.State{{Name: "OFF", Value: 0}, {Name: "ON", Value: 1}},
				}, nil
			}
			return fb.GetStateSet(ctx, System, name)
		},
	})
}

func enabledFilters(limit float64) (schema.FilterSettings, schema.FilterSettings) {
	s := schema.FilterSettings{
		Enabled:    true,
		LimitType:  schema.LimitAbsolute,
		Limit:      limit,
		WindowSize: schema.Duration(schema.DefaultWindowSize),
	}
	return s, s
}

func TestTagSnapshotMonotone(t *testing.T) {
	fb := &fakeBackend{}
	exc, cmp := enabledFilters(0)
	tag := testTag(t, &schema.TagDefinition{Exception: exc, Compression: cmp}, fb)

	res := tag.WriteSnapshot(context.Background(), []schema.TagValue{
		numAt(2, 2), numAt(0, 0), numAt(1, 1),
	})
	require.Equal(t, 3, res.SampleCount, "batch is reordered ascending before filtering")
	require.NotNil(t, tag.Snapshot())
	assert.True(t, tag.Snapshot().Time.Equal(epoch.Add(2*time.Second)))

	// Stale and equal instants are dropped silently.
	res = tag.WriteSnapshot(context.Background(), []schema.TagValue{numAt(1, 99), numAt(2, 99)})
	assert.Equal(t, 0, res.SampleCount)
	assert.Equal(t, 0, res.InvalidCount)
	assert.Equal(t, schema.Float(2), tag.Snapshot().Value)
}

func TestTagWriteCountsInvalid(t *testing.T) {
	fb := &fakeBackend{}
	exc, cmp := enabledFilters(0)
	tag := testTag(t, &schema.TagDefinition{Exception: exc, Compression: cmp}, fb)

	res := tag.WriteSnapshot(context.Background(), []schema.TagValue{
		numAt(0, 1),
		{Value: schema.Float(2)}, // no instant
		numAt(1, 2),
	})
	assert.Equal(t, 2, res.SampleCount)
	assert.Equal(t, 1, res.InvalidCount)
	assert.True(t, res.Earliest.Equal(epoch))
	assert.True(t, res.Latest.Equal(epoch.Add(time.Second)))
}

func TestTagSubscriptionDeliveries(t *testing.T) {
	fb := &fakeBackend{}
	exc, cmp := enabledFilters(0)
	tag := testTag(t, &schema.TagDefinition{Exception: exc, Compression: cmp}, fb)

	tag.WriteSnapshot(context.Background(), []schema.TagValue{numAt(0, 1)})

	var got []TagValueEvent
	sub := tag.Subscribe(func(ev TagValueEvent) { got = append(got, ev) })
	require.Len(t, got, 1, "current snapshot is delivered at subscribe time")
	assert.True(t, got[0].Value.Equals(numAt(0, 1)))

	tag.WriteSnapshot(context.Background(), []schema.TagValue{numAt(1, 2), numAt(2, 3)})
	require.Len(t, got, 3, "every accepted snapshot is delivered exactly once")
	assert.True(t, got[1].Value.Equals(numAt(1, 2)))
	assert.True(t, got[2].Value.Equals(numAt(2, 3)))

	sub.Close()
	tag.WriteSnapshot(context.Background(), []schema.TagValue{numAt(3, 4)})
	assert.Len(t, got, 3, "closed handles are no-ops")
}

func TestTagDeleteEmitsOneShot(t *testing.T) {
	fb := &fakeBackend{}
	exc, cmp := enabledFilters(0)
	tag := testTag(t, &schema.TagDefinition{Exception: exc, Compression: cmp}, fb)

	var events []TagValueEvent
	sub := tag.Subscribe(func(ev TagValueEvent) { events = append(events, ev) })

	tag.delete()
	tag.delete() // idempotent
	require.Len(t, events, 1)
	assert.True(t, events[0].Deleted)

	sub.Close() // still safe
	assert.Equal(t, 0, tag.WriteSnapshot(context.Background(), []schema.TagValue{numAt(0, 1)}).SampleCount)
}

func TestTagStateValidation(t *testing.T) {
	fb := &fakeBackend{}
	exc, cmp := enabledFilters(0)
	tag := testTag(t, &schema.TagDefinition{
		DataType:    schema.TypeState,
		StateSet:    "machine-status",
		Exception:   exc,
		Compression: cmp,
	}, fb)

	// Text resolves case-insensitive, value and text are rebuilt.
	res := tag.WriteSnapshot(context.Background(), []schema.TagValue{
		schema.NewTextValue(epoch, "on", schema.QualityGood),
	})
	require.Equal(t, 1, res.SampleCount)
	snap := tag.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, schema.Float(1), snap.Value)
	assert.Equal(t, "ON", snap.Text)

	// Unresolvable state counts as invalid.
	res = tag.WriteSnapshot(context.Background(), []schema.TagValue{
		schema.NewNumericValue(epoch.Add(time.Second), 2, schema.QualityGood, ""),
	})
	assert.Equal(t, 0, res.SampleCount)
	assert.Equal(t, 1, res.InvalidCount)

	// Numeric resolves through the value mapping.
	res = tag.WriteSnapshot(context.Background(), []schema.TagValue{
		{Time: epoch.Add(2 * time.Second), Value: schema.Float(0), Quality: schema.QualityGood},
	})
	require.Equal(t, 1, res.SampleCount)
	assert.Equal(t, "OFF", tag.Snapshot().Text)
}

func TestTagIntegerTruncation(t *testing.T) {
	fb := &fakeBackend{}
	exc, cmp := enabledFilters(0)
	tag := testTag(t, &schema.TagDefinition{
		DataType: schema.TypeInteger, Units: "rpm",
		Exception: exc, Compression: cmp,
	}, fb)

	res := tag.WriteSnapshot(context.Background(), []schema.TagValue{numAt(0, -7.9)})
	require.Equal(t, 1, res.SampleCount)
	snap := tag.Snapshot()
	assert.Equal(t, schema.Float(-7), snap.Value, "truncated toward zero")
	assert.Equal(t, "-7", snap.Text)
	assert.Equal(t, "rpm", snap.Units)
}

func TestTagArchiveHandoffOrder(t *testing.T) {
	fb := &fakeBackend{}
	exc, cmp := enabledFilters(0)
	cmp.Limit = 0.5
	tag := testTag(t, &schema.TagDefinition{Exception: exc, Compression: cmp}, fb)

	// The slope change pattern: (0,0) and (2,2) must reach the
	// archive, in order, with (3,1.5) as the pending candidate.
	tag.WriteSnapshot(context.Background(), []schema.TagValue{
		numAt(0, 0), numAt(1, 1), numAt(2, 2), numAt(3, 1.5),
	})

	require.Eventually(t, func() bool {
		return len(fb.insertCalls()) == 2
	}, time.Second, 5*time.Millisecond)

	calls := fb.insertCalls()
	require.Len(t, calls[0].batch, 1)
	assert.True(t, calls[0].batch[0].Equals(numAt(0, 0)))
	require.Len(t, calls[1].batch, 1)
	assert.True(t, calls[1].batch[0].Equals(numAt(2, 2)))
	require.NotNil(t, calls[1].candidate)
	assert.True(t, calls[1].candidate.Equals(numAt(3, 1.5)))
}

func TestTagArchiveQueueDrainsConcurrentWrites(t *testing.T) {
	fb := &fakeBackend{}
	settings := schema.FilterSettings{
		Enabled:    false,
		LimitType:  schema.LimitAbsolute,
		WindowSize: schema.Duration(schema.DefaultWindowSize),
	}
	tag := testTag(t, &schema.TagDefinition{Exception: settings, Compression: settings}, fb)

	// With compression disabled every accept archives the previous
	// candidate; 100 samples must yield 99 in-order batches.
	const n = 100
	samples := make([]schema.TagValue, 0, n)
	for i := 0; i < n; i++ {
		samples = append(samples, numAt(i, float64(i)))
	}
	tag.WriteSnapshot(context.Background(), samples)

	require.Eventually(t, func() bool {
		return len(fb.insertCalls()) == n-1
	}, 2*time.Second, 5*time.Millisecond)

	for i, call := range fb.insertCalls() {
		require.Len(t, call.batch, 1)
		assert.True(t, call.batch[0].Equals(numAt(i, float64(i))), "archive order broke at %d", i)
	}
}

func TestTagUpdatePreservesFilterRuntime(t *testing.T) {
	fb := &fakeBackend{}
	exc, cmp := enabledFilters(1.0)
	tag := testTag(t, &schema.TagDefinition{Exception: exc, Compression: cmp}, fb)

	tag.WriteSnapshot(context.Background(), []schema.TagValue{numAt(0, 42)})

	wider := 5.0
	entry := tag.applyUpdate(&schema.TagSettingsUpdate{
		Exception: &schema.FilterSettingsUpdate{Limit: &wider},
	}, "tester", "widen limit")
	assert.NotEmpty(t, entry.ID)

	res := tag.WriteSnapshot(context.Background(), []schema.TagValue{numAt(1, 45)})
	assert.Equal(t, 0, res.SampleCount, "last exception survived the settings swap")

	def := tag.Definition()
	assert.Equal(t, 5.0, def.Exception.Limit)
	require.NotEmpty(t, def.ChangeHistory)
	assert.Equal(t, "widen limit", def.ChangeHistory[len(def.ChangeHistory)-1].Description)
}
