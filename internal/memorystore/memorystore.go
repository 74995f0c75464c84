// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package memorystore is the volatile reference backend of the
// historian. Tag definitions, state sets and archive series live in
// instance-scoped maps guarded by one RWMutex; an optional catalog
// makes definitions and snapshots durable across restarts.
package memorystore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/pkg/log"
	"github.com/lulzzz/aika/pkg/schema"
)

// DefaultMaxRawSamples caps raw samples returned per tag and query.
const DefaultMaxRawSamples = 5000

// AccessPolicy decides per-caller capabilities. The zero-config
// default allows everything; deployments plug the auth package's
// role policy in.
type AccessPolicy interface {
	CanRead(caller historian.Caller, def *schema.TagDefinition) bool
	CanWrite(caller historian.Caller, def *schema.TagDefinition) bool
	CanManage(caller historian.Caller) bool
}

type allowAll struct{}

func (allowAll) CanRead(historian.Caller, *schema.TagDefinition) bool  { return true }
func (allowAll) CanWrite(historian.Caller, *schema.TagDefinition) bool { return true }
func (allowAll) CanManage(historian.Caller) bool                       { return true }

// Catalog makes tag definitions, state sets and snapshots durable.
// internal/repository implements it on SQLite.
type Catalog interface {
	LoadTags(ctx context.Context) ([]*schema.TagDefinition, error)
	LoadStateSets(ctx context.Context) ([]*schema.StateSet, error)
	SaveTag(ctx context.Context, def *schema.TagDefinition) error
	DeleteTag(ctx context.Context, tagID string) error
	SaveStateSet(ctx context.Context, set *schema.StateSet) error
	DeleteStateSet(ctx context.Context, name string) error
	SaveSnapshot(ctx context.Context, tagID string, v schema.TagValue) error
}

type entry struct {
	def       *schema.TagDefinition
	series    []schema.TagValue
	candidate *schema.TagValue
	snapshot  *schema.TagValue
}

// MemoryStore implements historian.Backend.
type MemoryStore struct {
	mu        sync.RWMutex
	tags      map[string]*entry           // by tag id
	stateSets map[string]*schema.StateSet // by lower-cased name

	policy        AccessPolicy
	catalog       Catalog
	maxRawSamples int

	initMu      sync.Mutex
	initialized bool
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithPolicy replaces the allow-all access policy.
func WithPolicy(p AccessPolicy) Option {
	return func(ms *MemoryStore) { ms.policy = p }
}

// WithCatalog attaches a durable catalog loaded during Init and
// written through on every mutation.
func WithCatalog(c Catalog) Option {
	return func(ms *MemoryStore) { ms.catalog = c }
}

// WithMaxRawSamples overrides the per-query raw sample cap.
func WithMaxRawSamples(n int) Option {
	return func(ms *MemoryStore) { ms.maxRawSamples = n }
}

func New(opts ...Option) *MemoryStore {
	ms := &MemoryStore{
		tags:          make(map[string]*entry),
		stateSets:     make(map[string]*schema.StateSet),
		policy:        allowAll{},
		maxRawSamples: DefaultMaxRawSamples,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

// Init loads the catalog, if any. Idempotent.
func (ms *MemoryStore) Init(ctx context.Context) error {
	ms.initMu.Lock()
	defer ms.initMu.Unlock()
	if ms.initialized {
		return nil
	}
	if ms.catalog != nil {
		sets, err := ms.catalog.LoadStateSets(ctx)
		if err != nil {
			return err
		}
		defs, err := ms.catalog.LoadTags(ctx)
		if err != nil {
			return err
		}
		ms.mu.Lock()
		for _, set := range sets {
			ms.stateSets[strings.ToLower(set.Name)] = set
		}
		for _, def := range defs {
			e := &entry{def: def}
			if def.Snapshot != nil {
				v := *def.Snapshot
				e.snapshot = &v
			}
			ms.tags[def.ID] = e
		}
		ms.mu.Unlock()
		log.Infof("Memory store loaded %d tags and %d state sets from catalog", len(defs), len(sets))
	}
	ms.initialized = true
	return nil
}

func isSystem(caller historian.Caller) bool {
	return caller == historian.System
}

func (ms *MemoryStore) CanRead(ctx context.Context, caller historian.Caller, tagIDs []string) (map[string]bool, error) {
	return ms.capabilities(caller, tagIDs, ms.policy.CanRead)
}

func (ms *MemoryStore) CanWrite(ctx context.Context, caller historian.Caller, tagIDs []string) (map[string]bool, error) {
	return ms.capabilities(caller, tagIDs, ms.policy.CanWrite)
}

func (ms *MemoryStore) capabilities(caller historian.Caller, tagIDs []string, pred func(historian.Caller, *schema.TagDefinition) bool) (map[string]bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make(map[string]bool, len(tagIDs))
	for _, id := range tagIDs {
		e, ok := ms.tags[id]
		out[id] = ok && (isSystem(caller) || pred(caller, e.def))
	}
	return out, nil
}

func (ms *MemoryStore) ListTags(ctx context.Context) ([]*schema.TagDefinition, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]*schema.TagDefinition, 0, len(ms.tags))
	for _, e := range ms.tags {
		out = append(out, copyDef(e.def))
	}
	sortDefsByName(out)
	return out, nil
}

func (ms *MemoryStore) CreateTag(ctx context.Context, caller historian.Caller, def *schema.TagDefinition) error {
	if !isSystem(caller) && !ms.policy.CanManage(caller) {
		return fmt.Errorf("%w: caller '%s' may not create tags", schema.ErrUnauthorized, caller.Name())
	}

	ms.mu.Lock()
	for _, e := range ms.tags {
		if strings.EqualFold(e.def.Name, def.Name) {
			ms.mu.Unlock()
			return fmt.Errorf("%w: tag name '%s' already in use", schema.ErrInvalidArgument, def.Name)
		}
	}
	ms.tags[def.ID] = &entry{def: copyDef(def)}
	ms.mu.Unlock()

	return ms.persistTag(ctx, def)
}

func (ms *MemoryStore) UpdateTag(ctx context.Context, caller historian.Caller, def *schema.TagDefinition) error {
	if !isSystem(caller) && !ms.policy.CanManage(caller) {
		return fmt.Errorf("%w: caller '%s' may not update tags", schema.ErrUnauthorized, caller.Name())
	}

	ms.mu.Lock()
	e, ok := ms.tags[def.ID]
	if !ok {
		ms.mu.Unlock()
		return fmt.Errorf("%w: tag '%s'", schema.ErrNotFound, def.ID)
	}
	e.def = copyDef(def)
	ms.mu.Unlock()

	return ms.persistTag(ctx, def)
}

func (ms *MemoryStore) DeleteTag(ctx context.Context, caller historian.Caller, tagID string) error {
	if !isSystem(caller) && !ms.policy.CanManage(caller) {
		return fmt.Errorf("%w: caller '%s' may not delete tags", schema.ErrUnauthorized, caller.Name())
	}

	ms.mu.Lock()
	_, ok := ms.tags[tagID]
	delete(ms.tags, tagID)
	ms.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: tag '%s'", schema.ErrNotFound, tagID)
	}

	if ms.catalog != nil {
		if err := ms.catalog.DeleteTag(ctx, tagID); err != nil {
			log.Errorf("Catalog delete for tag %s failed: %v", tagID, err)
		}
	}
	return nil
}

func (ms *MemoryStore) persistTag(ctx context.Context, def *schema.TagDefinition) error {
	if ms.catalog == nil {
		return nil
	}
	if err := ms.catalog.SaveTag(ctx, def); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrBackend, err)
	}
	return nil
}

/* State sets */

func (ms *MemoryStore) FindStateSets(ctx context.Context, caller historian.Caller, pattern string) ([]*schema.StateSet, error) {
	if pattern == "" {
		pattern = "*"
	}
	re, err := wildcardRegexp(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern '%s'", schema.ErrInvalidArgument, pattern)
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := []*schema.StateSet{}
	for _, set := range ms.stateSets {
		if re.MatchString(set.Name) {
			out = append(out, copySet(set))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (ms *MemoryStore) GetStateSet(ctx context.Context, caller historian.Caller, name string) (*schema.StateSet, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	set, ok := ms.stateSets[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: state set '%s'", schema.ErrNotFound, name)
	}
	return copySet(set), nil
}

func (ms *MemoryStore) CreateStateSet(ctx context.Context, caller historian.Caller, set *schema.StateSet) error {
	if !isSystem(caller) && !ms.policy.CanManage(caller) {
		return fmt.Errorf("%w: caller '%s' may not create state sets", schema.ErrUnauthorized, caller.Name())
	}

	key := strings.ToLower(set.Name)
	ms.mu.Lock()
	if _, exists := ms.stateSets[key]; exists {
		ms.mu.Unlock()
		return fmt.Errorf("%w: state set '%s' already exists", schema.ErrInvalidArgument, set.Name)
	}
	ms.stateSets[key] = copySet(set)
	ms.mu.Unlock()

	return ms.persistStateSet(ctx, set)
}

func (ms *MemoryStore) UpdateStateSet(ctx context.Context, caller historian.Caller, set *schema.StateSet) error {
	if !isSystem(caller) && !ms.policy.CanManage(caller) {
		return fmt.Errorf("%w: caller '%s' may not update state sets", schema.ErrUnauthorized, caller.Name())
	}

	key := strings.ToLower(set.Name)
	ms.mu.Lock()
	if _, exists := ms.stateSets[key]; !exists {
		ms.mu.Unlock()
		return fmt.Errorf("%w: state set '%s'", schema.ErrNotFound, set.Name)
	}
	ms.stateSets[key] = copySet(set)
	ms.mu.Unlock()

	return ms.persistStateSet(ctx, set)
}

func (ms *MemoryStore) DeleteStateSet(ctx context.Context, caller historian.Caller, name string) error {
	if !isSystem(caller) && !ms.policy.CanManage(caller) {
		return fmt.Errorf("%w: caller '%s' may not delete state sets", schema.ErrUnauthorized, caller.Name())
	}

	key := strings.ToLower(name)
	ms.mu.Lock()
	_, ok := ms.stateSets[key]
	delete(ms.stateSets, key)
	ms.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: state set '%s'", schema.ErrNotFound, name)
	}

	if ms.catalog != nil {
		if err := ms.catalog.DeleteStateSet(ctx, name); err != nil {
			log.Errorf("Catalog delete for state set %s failed: %v", name, err)
		}
	}
	return nil
}

func (ms *MemoryStore) persistStateSet(ctx context.Context, set *schema.StateSet) error {
	if ms.catalog == nil {
		return nil
	}
	if err := ms.catalog.SaveStateSet(ctx, set); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrBackend, err)
	}
	return nil
}

/* Snapshots */

func (ms *MemoryStore) SaveSnapshot(ctx context.Context, tagID string, v schema.TagValue) error {
	ms.mu.Lock()
	e, ok := ms.tags[tagID]
	if ok {
		val := v
		e.snapshot = &val
	}
	ms.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: tag '%s'", schema.ErrNotFound, tagID)
	}

	if ms.catalog != nil {
		if err := ms.catalog.SaveSnapshot(ctx, tagID, v); err != nil {
			return fmt.Errorf("%w: %v", schema.ErrBackend, err)
		}
	}
	return nil
}

func (ms *MemoryStore) ReadSnapshot(ctx context.Context, tagID string) (*schema.TagValue, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	e, ok := ms.tags[tagID]
	if !ok || e.snapshot == nil {
		return nil, nil
	}
	v := *e.snapshot
	return &v, nil
}

/* Helpers */

func copyDef(def *schema.TagDefinition) *schema.TagDefinition {
	cp := *def
	cp.ChangeHistory = append([]schema.ChangeEntry(nil), def.ChangeHistory...)
	if def.Snapshot != nil {
		v := *def.Snapshot
		cp.Snapshot = &v
	}
	return &cp
}

func copySet(set *schema.StateSet) *schema.StateSet {
	cp := *set
	cp.States = append([]schema.State(nil), set.States...)
	return &cp
}

func sortDefsByName(defs []*schema.TagDefinition) {
	sort.Slice(defs, func(i, j int) bool {
		return strings.ToLower(defs[i].Name) < strings.ToLower(defs[j].Name)
	})
}

var _ historian.Backend = (*MemoryStore)(nil)
