// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package historian

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lulzzz/aika/internal/filter"
	"github.com/lulzzz/aika/internal/metrics"
	"github.com/lulzzz/aika/pkg/log"
	"github.com/lulzzz/aika/pkg/schema"
)

// Tag is the runtime object behind one time-series channel. It owns
// the filter state, the current snapshot, the subscriber set and the
// archive write queue.
//
// The snapshot write path is serialized per tag (writeMu); stateMu
// protects the fields for concurrent readers. Subscriber callbacks run
// synchronously on the writer's goroutine and must not block.
type Tag struct {
	id string

	writeMu sync.Mutex
	stateMu sync.RWMutex

	name          string
	description   string
	units         string
	dataType      schema.TagDataType
	stateSetName  string
	created       time.Time
	modified      time.Time
	changeHistory []schema.ChangeEntry

	// The per-filter Enabled flags sit inside the filter settings; the
	// tag has no filtering switch of its own and always filters.
	exception   *filter.ExceptionFilter
	compression *filter.CompressionFilter
	snapshot    *schema.TagValue
	deleted     bool

	subs    map[int]*Subscription
	nextSub int

	// Per-tag archive write queue, drained by a single writer that is
	// elected with a CAS on `writing`.
	queueMu sync.Mutex
	queue   []pendingWrite
	writing atomic.Bool

	backend Backend
	met     *metrics.Set
	// Lifecycle context for background archive drains; request
	// cancellation must not abort queued archive work.
	lifecycle context.Context

	resolveStateSet func(ctx context.Context, name string) (*schema.StateSet, error)
}

type pendingWrite struct {
	batch     []schema.TagValue
	candidate *schema.TagValue
}

func newTag(def *schema.TagDefinition, deps tagDeps) *Tag {
	t := &Tag{
		id:              def.ID,
		name:            def.Name,
		description:     def.Description,
		units:           def.Units,
		dataType:        def.DataType,
		stateSetName:    def.StateSet,
		created:         def.Created,
		modified:        def.Modified,
		changeHistory:   append([]schema.ChangeEntry(nil), def.ChangeHistory...),
		exception:       filter.NewExceptionFilter(def.Exception),
		compression:     filter.NewCompressionFilter(def.Compression),
		subs:            make(map[int]*Subscription),
		backend:         deps.backend,
		met:             deps.met,
		lifecycle:       deps.lifecycle,
		resolveStateSet: deps.resolveStateSet,
	}
	if def.Snapshot != nil {
		v := *def.Snapshot
		t.snapshot = &v
		t.exception.Prime(&v)
	}
	return t
}

type tagDeps struct {
	backend         Backend
	met             *metrics.Set
	lifecycle       context.Context
	resolveStateSet func(ctx context.Context, name string) (*schema.StateSet, error)
}

func (t *Tag) ID() string { return t.id }

func (t *Tag) Name() string {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.name
}

// Snapshot returns the current snapshot, or nil if the tag never
// received a valid sample.
func (t *Tag) Snapshot() *schema.TagValue {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	if t.snapshot == nil {
		return nil
	}
	v := *t.snapshot
	return &v
}

// Definition renders the persisted/wire form of the tag.
func (t *Tag) Definition() *schema.TagDefinition {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	def := &schema.TagDefinition{
		ID:            t.id,
		Name:          t.name,
		Description:   t.description,
		Units:         t.units,
		DataType:      t.dataType,
		StateSet:      t.stateSetName,
		Exception:     t.exception.Settings(),
		Compression:   t.compression.Settings(),
		Created:       t.created,
		Modified:      t.modified,
		ChangeHistory: append([]schema.ChangeEntry(nil), t.changeHistory...),
	}
	if t.snapshot != nil {
		v := *t.snapshot
		def.Snapshot = &v
	}
	return def
}

// WriteSnapshot validates and filters a batch of samples. Samples are
// processed in ascending instant order; stale samples (not newer than
// the snapshot) are dropped silently, invalid ones are counted.
// Per-sample failures never abort the batch.
func (t *Tag) WriteSnapshot(ctx context.Context, samples []schema.TagValue) schema.WriteResult {
	ordered := append([]schema.TagValue(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Time.Before(ordered[j].Time)
	})

	var res schema.WriteResult
	for _, raw := range ordered {
		if ctx.Err() != nil {
			res.Notes = append(res.Notes, "Cancelled")
			break
		}
		t.met.SamplesReceived.Inc()

		v, err := t.validateValue(ctx, raw)
		if err != nil {
			res.InvalidCount++
			t.met.SamplesInvalid.Inc()
			continue
		}
		res.Observe(v.Time)

		if t.writeOne(v) {
			res.SampleCount++
			t.met.SamplesAccepted.Inc()
		}
	}
	return res
}

// writeOne pushes a single validated sample through the snapshot
// protocol: exception filter, snapshot update, subscriber fanout,
// compression filter, archive handoff.
func (t *Tag) writeOne(v schema.TagValue) bool {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.stateMu.RLock()
	snap := t.snapshot
	deleted := t.deleted
	t.stateMu.RUnlock()
	if deleted {
		return false
	}
	if snap != nil && !v.Time.After(snap.Time) {
		// Snapshot instants are monotone; older or equal instants are
		// dropped without an error.
		return false
	}

	emitted, accepted := t.exception.Process(v, true)
	if !accepted {
		return false
	}

	newSnap := emitted[len(emitted)-1]
	t.stateMu.Lock()
	t.snapshot = &newSnap
	t.stateMu.Unlock()

	t.notify(emitted)

	var batches []pendingWrite
	for _, e := range emitted {
		if batch := t.compression.Process(e, true); len(batch) > 0 {
			batches = append(batches, pendingWrite{
				batch:     batch,
				candidate: t.compression.Candidate(),
			})
		}
	}
	for _, pw := range batches {
		t.enqueueArchive(pw)
	}
	return true
}

// InsertArchive validates samples and hands them to the archive writer
// directly, bypassing both filters. Snapshot and filter state stay
// untouched; the persisted archive candidate is re-asserted so a
// direct insert cannot derail the compression handoff.
func (t *Tag) InsertArchive(ctx context.Context, samples []schema.TagValue) schema.WriteResult {
	var res schema.WriteResult
	valid := make([]schema.TagValue, 0, len(samples))
	for _, raw := range samples {
		if ctx.Err() != nil {
			res.Notes = append(res.Notes, "Cancelled")
			break
		}
		v, err := t.validateValue(ctx, raw)
		if err != nil {
			res.InvalidCount++
			t.met.SamplesInvalid.Inc()
			continue
		}
		valid = append(valid, v)
		res.Observe(v.Time)
		res.SampleCount++
	}
	if len(valid) == 0 {
		return res
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Time.Before(valid[j].Time)
	})

	t.writeMu.Lock()
	candidate := t.compression.Candidate()
	t.writeMu.Unlock()
	t.enqueueArchive(pendingWrite{batch: valid, candidate: candidate})
	return res
}

// enqueueArchive appends to the per-tag FIFO and elects a drainer with
// a 0→1 CAS on the writing flag. Contended callers return immediately;
// the holder drains in submission order, so there is at most one
// in-flight backend insert per tag.
func (t *Tag) enqueueArchive(pw pendingWrite) {
	t.queueMu.Lock()
	t.queue = append(t.queue, pw)
	t.queueMu.Unlock()
	t.met.ArchiveQueueDepth.Inc()

	if t.writing.CompareAndSwap(false, true) {
		go t.drainArchiveQueue()
	}
}

func (t *Tag) drainArchiveQueue() {
	for {
		t.queueMu.Lock()
		if len(t.queue) == 0 {
			t.queueMu.Unlock()
			t.writing.Store(false)
			// A producer may have enqueued between the emptiness
			// check and the flag reset; re-elect in that case.
			t.queueMu.Lock()
			refill := len(t.queue) > 0
			t.queueMu.Unlock()
			if !refill || !t.writing.CompareAndSwap(false, true) {
				return
			}
			continue
		}
		pw := t.queue[0]
		t.queue = t.queue[1:]
		t.queueMu.Unlock()
		t.met.ArchiveQueueDepth.Dec()

		if _, err := t.backend.InsertArchiveValues(t.lifecycle, t.id, pw.batch, pw.candidate); err != nil {
			// Individual batches must not stall the queue.
			t.met.BackendErrors.Inc()
			log.Errorf("Archive insert for tag %s failed: %v", t.id, err)
		} else {
			t.met.SamplesArchived.Add(float64(len(pw.batch)))
		}
	}
}

// applyUpdate merges a partial settings update and appends a change
// history entry. Filter runtime state (last exception, last archived
// sample, corridor) survives settings swaps.
func (t *Tag) applyUpdate(update *schema.TagSettingsUpdate, user, description string) schema.ChangeEntry {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if update.Name != nil {
		t.name = *update.Name
	}
	if update.Description != nil {
		t.description = *update.Description
	}
	if update.Units != nil {
		t.units = *update.Units
	}
	if update.DataType != nil {
		t.dataType = *update.DataType
	}
	if update.StateSet != nil {
		t.stateSetName = *update.StateSet
	}
	if update.Exception != nil {
		t.exception.SetSettings(t.exception.Settings().Apply(update.Exception))
	}
	if update.Compression != nil {
		t.compression.SetSettings(t.compression.Settings().Apply(update.Compression))
	}

	entry := schema.ChangeEntry{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		User:        user,
		Description: description,
	}
	t.changeHistory = append(t.changeHistory, entry)
	t.modified = entry.Time
	return entry
}

// delete emits the one-shot deletion event and turns every
// subscription handle into a no-op.
func (t *Tag) delete() {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.stateMu.Lock()
	if t.deleted {
		t.stateMu.Unlock()
		return
	}
	t.deleted = true
	subs := make([]*Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.subs = make(map[int]*Subscription)
	name := t.name
	t.stateMu.Unlock()

	ev := TagValueEvent{TagID: t.id, TagName: name, Deleted: true}
	for _, s := range subs {
		s.deliver(ev)
		s.markClosed()
	}
}

// primeFromBackend restores filter continuity after a restart: the
// persisted snapshot seeds the exception filter, the persisted archive
// candidate re-opens the swinging door.
func (t *Tag) primeFromBackend(ctx context.Context) {
	if snap, err := t.backend.ReadSnapshot(ctx, t.id); err == nil && snap != nil {
		t.stateMu.Lock()
		if t.snapshot == nil || snap.Time.After(t.snapshot.Time) {
			t.snapshot = snap
			t.exception.Prime(snap)
		}
		t.stateMu.Unlock()
	}
	candidate, err := t.backend.ReadArchiveCandidate(ctx, t.id)
	if err != nil || candidate == nil {
		return
	}
	last, err := t.lastArchivedFromBackend(ctx, candidate.Time)
	if err != nil {
		log.Warnf("Could not restore archive anchor for tag %s: %v", t.id, err)
	}
	t.compression.Prime(last, candidate)
}

func (t *Tag) lastArchivedFromBackend(ctx context.Context, before time.Time) (*schema.TagValue, error) {
	raw, err := t.backend.ReadRaw(ctx, System, t.id, time.Time{}, before, 0)
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	v := raw[len(raw)-1]
	return &v, nil
}
