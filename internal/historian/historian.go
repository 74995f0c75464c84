// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package historian implements the core value-processing engine of
// aika: per-tag snapshot/exception/compression filtering, the archive
// write path, snapshot subscriptions and aggregated reads. The facade
// coordinates authorization, tag lookup and dispatch over a pluggable
// Backend.
package historian

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lulzzz/aika/internal/aggregation"
	"github.com/lulzzz/aika/internal/metrics"
	"github.com/lulzzz/aika/pkg/log"
	"github.com/lulzzz/aika/pkg/schema"
)

// Historian owns the runtime tag registry. All registries are instance
// scoped; constructing two historians yields fully isolated engines.
type Historian struct {
	backend Backend
	met     *metrics.Set

	lifecycle context.Context
	stop      context.CancelFunc

	initMu      sync.Mutex
	initialized atomic.Bool

	tagMu      sync.RWMutex
	tagsByID   map[string]*Tag
	tagsByName map[string]*Tag
}

func New(backend Backend, reg prometheus.Registerer) *Historian {
	ctx, cancel := context.WithCancel(context.Background())
	return &Historian{
		backend:    backend,
		met:        metrics.New(reg),
		lifecycle:  ctx,
		stop:       cancel,
		tagsByID:   make(map[string]*Tag),
		tagsByName: make(map[string]*Tag),
	}
}

// Init readies the backend and builds the runtime tag registry.
// Concurrent calls collapse into one; repeated calls are no-ops.
// Every other operation fails with schema.ErrPreconditionFailed until
// Init has completed.
func (h *Historian) Init(ctx context.Context) error {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	if h.initialized.Load() {
		return nil
	}

	if err := h.backend.Init(ctx); err != nil {
		return fmt.Errorf("%w: init: %v", schema.ErrBackend, err)
	}

	defs, err := h.backend.ListTags(ctx)
	if err != nil {
		return fmt.Errorf("%w: list tags: %v", schema.ErrBackend, err)
	}
	for _, def := range defs {
		t := newTag(def, h.tagDeps())
		t.primeFromBackend(ctx)
		h.register(t)
	}

	h.initialized.Store(true)
	log.Infof("Historian initialized with %d tags", len(defs))
	return nil
}

// Shutdown cancels the context that archive drains pass to the backend.
// The drains themselves are not stopped: they keep working through their
// queues, and a backend that honours cancellation fails (and the drain
// logs) the inserts made after Shutdown.
func (h *Historian) Shutdown() {
	h.stop()
}

func (h *Historian) tagDeps() tagDeps {
	return tagDeps{
		backend:   h.backend,
		met:       h.met,
		lifecycle: h.lifecycle,
		resolveStateSet: func(ctx context.Context, name string) (*schema.StateSet, error) {
			return h.backend.GetStateSet(ctx, System, name)
		},
	}
}

func (h *Historian) ready() error {
	if !h.initialized.Load() {
		return schema.ErrPreconditionFailed
	}
	return nil
}

func (h *Historian) register(t *Tag) {
	h.tagMu.Lock()
	h.tagsByID[t.ID()] = t
	h.tagsByName[strings.ToLower(t.Name())] = t
	h.tagMu.Unlock()
}

func (h *Historian) unregister(t *Tag) {
	h.tagMu.Lock()
	delete(h.tagsByID, t.ID())
	delete(h.tagsByName, strings.ToLower(t.Name()))
	h.tagMu.Unlock()
}

// lookup resolves a tag by id or, failing that, by case-insensitive
// name.
func (h *Historian) lookup(idOrName string) (*Tag, bool) {
	h.tagMu.RLock()
	defer h.tagMu.RUnlock()
	if t, ok := h.tagsByID[idOrName]; ok {
		return t, true
	}
	t, ok := h.tagsByName[strings.ToLower(idOrName)]
	return t, ok
}

// resolve maps request inputs to tags and splits them by read/write
// capability. Unknown names land in neither map.
func (h *Historian) resolve(ctx context.Context, caller Caller, inputs []string, write bool) (allowed map[string]*Tag, denied []string, err error) {
	tags := make(map[string]*Tag, len(inputs))
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if t, ok := h.lookup(in); ok {
			tags[in] = t
			ids = append(ids, t.ID())
		}
	}

	var caps map[string]bool
	if write {
		caps, err = h.backend.CanWrite(ctx, caller, ids)
	} else {
		caps, err = h.backend.CanRead(ctx, caller, ids)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", schema.ErrBackend, err)
	}

	allowed = make(map[string]*Tag, len(tags))
	for in, t := range tags {
		if caps[t.ID()] {
			allowed[in] = t
		} else {
			denied = append(denied, in)
		}
	}
	return allowed, denied, nil
}

/* Reads */

// ReadSnapshots returns the current snapshot per input. Unauthorized
// inputs are preserved with the sentinel sample at the supplied
// instant; unknown tags and tags without a snapshot are omitted.
func (h *Historian) ReadSnapshots(ctx context.Context, caller Caller, inputs []string, at time.Time) (map[string]schema.TagValue, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: empty tag list", schema.ErrInvalidArgument)
	}

	allowed, denied, err := h.resolve(ctx, caller, inputs, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string]schema.TagValue, len(inputs))
	for in, t := range allowed {
		if snap := t.Snapshot(); snap != nil {
			out[in] = *snap
		}
	}
	for _, in := range denied {
		out[in] = schema.UnauthorizedValue(at)
	}
	return out, nil
}

// ReadRaw returns archived samples per input over [start, end].
func (h *Historian) ReadRaw(ctx context.Context, caller Caller, inputs []string, start, end time.Time, pointCount int) (map[string][]schema.TagValue, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: empty tag list", schema.ErrInvalidArgument)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end before start", schema.ErrInvalidArgument)
	}

	allowed, denied, err := h.resolve(ctx, caller, inputs, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]schema.TagValue, len(inputs))
	for in, t := range allowed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		raw, err := h.backend.ReadRaw(ctx, caller, t.ID(), start, end, pointCount)
		if err != nil {
			log.Warnf("Raw read for tag %s failed: %v", t.ID(), err)
			out[in] = []schema.TagValue{}
			continue
		}
		out[in] = raw
	}
	for _, in := range denied {
		out[in] = []schema.TagValue{schema.UnauthorizedValue(end)}
	}
	return out, nil
}

// ReadProcessed computes a data function per input. Exactly one of
// interval and pointCount picks the bucketing; pointCount partitions
// [start, end] into that many equal buckets.
func (h *Historian) ReadProcessed(ctx context.Context, caller Caller, inputs []string, fn schema.DataFunction, start, end time.Time, interval time.Duration, pointCount int) (map[string]schema.ProcessedSeries, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: empty tag list", schema.ErrInvalidArgument)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: empty query range", schema.ErrInvalidArgument)
	}
	if interval <= 0 {
		if pointCount < 1 {
			return nil, fmt.Errorf("%w: need an interval or a point count", schema.ErrInvalidArgument)
		}
		interval = end.Sub(start) / time.Duration(pointCount)
		if interval <= 0 {
			return nil, fmt.Errorf("%w: point count too large for range", schema.ErrInvalidArgument)
		}
	}

	allowed, denied, err := h.resolve(ctx, caller, inputs, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string]schema.ProcessedSeries, len(inputs))
	for in, t := range allowed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out[in] = h.readProcessedOne(ctx, caller, t, fn, start, end, interval)
	}
	for _, in := range denied {
		out[in] = schema.ProcessedSeries{
			Values: []schema.TagValue{schema.UnauthorizedValue(end)},
			Hint:   schema.HintTrailingEdge,
		}
	}
	return out, nil
}

// readProcessedOne dispatches one tag: native backend support first,
// then local aggregation, otherwise the Unsupported sentinel.
func (h *Historian) readProcessedOne(ctx context.Context, caller Caller, t *Tag, fn schema.DataFunction, start, end time.Time, interval time.Duration) schema.ProcessedSeries {
	if h.backend.SupportsDataFunction(fn) {
		series, err := h.backend.ReadProcessedNative(ctx, caller, t.ID(), fn, start, end, interval)
		if err == nil {
			return *series
		}
		log.Warnf("Native %s read for tag %s failed, falling back: %v", fn, t.ID(), err)
	}

	if !aggregation.Supports(fn) {
		return schema.ProcessedSeries{
			Values: []schema.TagValue{schema.UnsupportedValue(end, string(fn))},
			Hint:   schema.HintTrailingEdge,
		}
	}

	// The aggregation engine needs one leading interval of raw data
	// for the first bucket.
	raw, err := h.backend.ReadRaw(ctx, caller, t.ID(), start.Add(-interval), end, 0)
	if err != nil {
		log.Warnf("Raw read for tag %s failed: %v", t.ID(), err)
		return schema.ProcessedSeries{Values: []schema.TagValue{}, Hint: schema.HintTrailingEdge}
	}
	return aggregation.Process(fn, raw, start, end, interval, t.dataTypeSnapshot() == schema.TypeState)
}

// ReadPlot renders a plot-optimized series with the given number of
// intervals across the range.
func (h *Historian) ReadPlot(ctx context.Context, caller Caller, inputs []string, start, end time.Time, intervals int) (map[string]schema.ProcessedSeries, error) {
	if intervals < 1 {
		return nil, fmt.Errorf("%w: intervals start at 1", schema.ErrInvalidArgument)
	}
	return h.ReadProcessed(ctx, caller, inputs, schema.FnPlot, start, end, 0, intervals)
}

func (t *Tag) dataTypeSnapshot() schema.TagDataType {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.dataType
}

/* Writes */

// WriteSnapshots feeds sample batches through the filter pipeline.
// Results are per input; unauthorized and unknown tags never abort the
// batch.
func (h *Historian) WriteSnapshots(ctx context.Context, caller Caller, batches map[string][]schema.TagValue) (map[string]schema.WriteResult, error) {
	return h.write(ctx, caller, batches, func(t *Tag, samples []schema.TagValue) schema.WriteResult {
		return t.WriteSnapshot(ctx, samples)
	})
}

// InsertArchive writes samples directly to the archive, bypassing the
// filters.
func (h *Historian) InsertArchive(ctx context.Context, caller Caller, batches map[string][]schema.TagValue) (map[string]schema.WriteResult, error) {
	return h.write(ctx, caller, batches, func(t *Tag, samples []schema.TagValue) schema.WriteResult {
		return t.InsertArchive(ctx, samples)
	})
}

func (h *Historian) write(ctx context.Context, caller Caller, batches map[string][]schema.TagValue, op func(*Tag, []schema.TagValue) schema.WriteResult) (map[string]schema.WriteResult, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("%w: empty write", schema.ErrInvalidArgument)
	}

	inputs := make([]string, 0, len(batches))
	for in := range batches {
		inputs = append(inputs, in)
	}
	allowed, denied, err := h.resolve(ctx, caller, inputs, true)
	if err != nil {
		return nil, err
	}

	out := make(map[string]schema.WriteResult, len(batches))
	for in, t := range allowed {
		out[in] = op(t, batches[in])
	}
	for _, in := range denied {
		out[in] = schema.UnauthorizedWriteResult()
	}
	for in := range batches {
		if _, ok := out[in]; !ok {
			out[in] = schema.WriteResult{Notes: []string{"Tag not found"}}
		}
	}
	return out, nil
}

/* Tag CRUD */

// CreateTag validates and sanitizes the settings, persists the
// definition and registers the runtime tag.
func (h *Historian) CreateTag(ctx context.Context, caller Caller, settings schema.TagSettings) (*schema.TagDefinition, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	sanitizeSettings(&settings)

	if settings.DataType == schema.TypeState {
		if _, err := h.backend.GetStateSet(ctx, System, settings.StateSet); err != nil {
			return nil, fmt.Errorf("%w: state set '%s'", schema.ErrNotFound, settings.StateSet)
		}
	}
	if _, exists := h.lookup(settings.Name); exists {
		return nil, fmt.Errorf("%w: tag name '%s' already in use", schema.ErrInvalidArgument, settings.Name)
	}

	now := time.Now().UTC()
	def := &schema.TagDefinition{
		ID:          uuid.New().String(),
		Name:        settings.Name,
		Description: settings.Description,
		Units:       settings.Units,
		DataType:    settings.DataType,
		StateSet:    settings.StateSet,
		Exception:   *settings.Exception,
		Compression: *settings.Compression,
		Created:     now,
		Modified:    now,
		ChangeHistory: []schema.ChangeEntry{{
			ID:          uuid.New().String(),
			Time:        now,
			User:        caller.Name(),
			Description: "Created",
		}},
	}

	if err := h.backend.CreateTag(ctx, caller, def); err != nil {
		return nil, err
	}
	t := newTag(def, h.tagDeps())
	h.register(t)
	return t.Definition(), nil
}

// UpdateTag applies a partial settings update and appends a change
// history entry.
func (h *Historian) UpdateTag(ctx context.Context, caller Caller, idOrName string, update schema.TagSettingsUpdate, description string) (*schema.TagDefinition, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	t, ok := h.lookup(idOrName)
	if !ok {
		return nil, fmt.Errorf("%w: tag '%s'", schema.ErrNotFound, idOrName)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tag name must not be blank", schema.ErrInvalidArgument)
		}
		if other, exists := h.lookup(name); exists && other != t {
			return nil, fmt.Errorf("%w: tag name '%s' already in use", schema.ErrInvalidArgument, name)
		}
		*update.Name = name
	}
	if update.DataType != nil && !update.DataType.Valid() {
		return nil, fmt.Errorf("%w: unknown data type '%s'", schema.ErrInvalidArgument, *update.DataType)
	}
	if update.StateSet != nil && *update.StateSet != "" {
		if _, err := h.backend.GetStateSet(ctx, System, *update.StateSet); err != nil {
			return nil, fmt.Errorf("%w: state set '%s'", schema.ErrNotFound, *update.StateSet)
		}
	}

	oldName := t.Name()
	t.applyUpdate(&update, caller.Name(), description)
	if update.Name != nil && !strings.EqualFold(oldName, *update.Name) {
		h.tagMu.Lock()
		delete(h.tagsByName, strings.ToLower(oldName))
		h.tagsByName[strings.ToLower(*update.Name)] = t
		h.tagMu.Unlock()
	}

	def := t.Definition()
	if err := h.backend.UpdateTag(ctx, caller, def); err != nil {
		return nil, err
	}
	return def, nil
}

// DeleteTag removes the tag from the registry and backend; a one-shot
// deletion event reaches the subscribers and their handles go inert.
func (h *Historian) DeleteTag(ctx context.Context, caller Caller, idOrName string) error {
	if err := h.ready(); err != nil {
		return err
	}
	t, ok := h.lookup(idOrName)
	if !ok {
		return fmt.Errorf("%w: tag '%s'", schema.ErrNotFound, idOrName)
	}
	if err := h.backend.DeleteTag(ctx, caller, t.ID()); err != nil {
		return err
	}
	t.delete()
	h.unregister(t)
	return nil
}

// ResolveTags maps ids or names to definitions, restricted to tags the
// caller can read. Unknown inputs are omitted.
func (h *Historian) ResolveTags(ctx context.Context, caller Caller, inputs []string) (map[string]*schema.TagDefinition, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	allowed, _, err := h.resolve(ctx, caller, inputs, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*schema.TagDefinition, len(allowed))
	for in, t := range allowed {
		out[in] = t.Definition()
	}
	return out, nil
}

// SearchTags runs a paged wildcard search.
func (h *Historian) SearchTags(ctx context.Context, caller Caller, f schema.TagSearchFilter) ([]*schema.TagDefinition, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if err := f.Normalize(); err != nil {
		return nil, err
	}
	return h.backend.FindTags(ctx, caller, &f)
}

/* State sets */

func (h *Historian) CreateStateSet(ctx context.Context, caller Caller, set schema.StateSet) (*schema.StateSet, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if err := h.backend.CreateStateSet(ctx, caller, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (h *Historian) UpdateStateSet(ctx context.Context, caller Caller, set schema.StateSet) (*schema.StateSet, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if err := h.backend.UpdateStateSet(ctx, caller, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// DeleteStateSet refuses while a tag still references the set.
func (h *Historian) DeleteStateSet(ctx context.Context, caller Caller, name string) error {
	if err := h.ready(); err != nil {
		return err
	}
	h.tagMu.RLock()
	for _, t := range h.tagsByID {
		if strings.EqualFold(t.Definition().StateSet, name) {
			h.tagMu.RUnlock()
			return fmt.Errorf("%w: state set '%s' is referenced by tag '%s'",
				schema.ErrInvalidArgument, name, t.Name())
		}
	}
	h.tagMu.RUnlock()
	return h.backend.DeleteStateSet(ctx, caller, name)
}

func (h *Historian) GetStateSet(ctx context.Context, caller Caller, name string) (*schema.StateSet, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	return h.backend.GetStateSet(ctx, caller, name)
}

func (h *Historian) FindStateSets(ctx context.Context, caller Caller, pattern string) ([]*schema.StateSet, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	return h.backend.FindStateSets(ctx, caller, pattern)
}

/* Subscriptions */

// SubscribeTags registers the caller's sink for every readable input
// tag. The session owns the per-tag subscriptions; Close releases
// them all.
func (h *Historian) SubscribeTags(ctx context.Context, caller Caller, inputs []string, sink func(TagValueEvent)) (*SubscriptionSession, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: empty tag list", schema.ErrInvalidArgument)
	}

	allowed, _, err := h.resolve(ctx, caller, inputs, false)
	if err != nil {
		return nil, err
	}

	session := &SubscriptionSession{caller: caller}
	for _, t := range allowed {
		session.add(t.Subscribe(sink))
	}
	return session, nil
}

/* Maintenance */

// FlushSnapshots persists every current snapshot through the backend.
// Used by the periodic flush task.
func (h *Historian) FlushSnapshots(ctx context.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	h.tagMu.RLock()
	tags := make([]*Tag, 0, len(h.tagsByID))
	for _, t := range h.tagsByID {
		tags = append(tags, t)
	}
	h.tagMu.RUnlock()

	for _, t := range tags {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		snap := t.Snapshot()
		if snap == nil {
			continue
		}
		if err := h.backend.SaveSnapshot(ctx, t.ID(), *snap); err != nil {
			log.Warnf("Snapshot flush for tag %s failed: %v", t.ID(), err)
		}
	}
	return nil
}

// sanitizeSettings fills defaults. State tags always filter with an
// absolute limit of 1; the deviation test is strict, so a change of
// exactly one state value passes an enabled filter only through the
// other rules (quality change, elapsed window).
func sanitizeSettings(s *schema.TagSettings) {
	if s.DataType == "" {
		s.DataType = schema.TypeFloat
	}
	if s.Exception == nil {
		def := schema.DefaultFilterSettings()
		s.Exception = &def
	}
	if s.Compression == nil {
		def := schema.DefaultFilterSettings()
		s.Compression = &def
	}
	if s.Exception.WindowSize == 0 {
		s.Exception.WindowSize = schema.Duration(schema.DefaultWindowSize)
	}
	if s.Compression.WindowSize == 0 {
		s.Compression.WindowSize = schema.Duration(schema.DefaultWindowSize)
	}
	if s.DataType == schema.TypeState {
		s.Exception.LimitType = schema.LimitAbsolute
		s.Exception.Limit = 1
		s.Compression.LimitType = schema.LimitAbsolute
		s.Compression.Limit = 1
	}
}
