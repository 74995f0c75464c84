// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package historian

import (
	"context"
	"time"

	"github.com/lulzzz/aika/pkg/schema"
)

// Caller is the opaque identity a request runs as. The engine never
// inspects it beyond the name; capability decisions belong to the
// backend's authorization predicates.
type Caller interface {
	Name() string
}

type systemCaller struct{}

func (systemCaller) Name() string { return "system" }

// System is the historian's own identity, used for bootstrap loading
// and background maintenance. Backends must grant it full access.
var System Caller = systemCaller{}

// Backend is the storage and authorization boundary of the historian.
// Adapters implement it; the reference implementation is
// internal/memorystore. All methods must be safe for concurrent use.
//
// Errors are reported with the pkg/schema error kinds; per-tag
// failures inside batch operations surface as per-tag results, not as
// a call-level error.
type Backend interface {
	// Init readies the backend. It must be idempotent.
	Init(ctx context.Context) error

	// CanRead and CanWrite answer capability checks per tag id.
	CanRead(ctx context.Context, caller Caller, tagIDs []string) (map[string]bool, error)
	CanWrite(ctx context.Context, caller Caller, tagIDs []string) (map[string]bool, error)

	// ListTags returns every tag definition; used by the historian to
	// build its runtime registry during Init.
	ListTags(ctx context.Context) ([]*schema.TagDefinition, error)

	// FindTags runs a paged wildcard search, restricted to tags the
	// caller can read.
	FindTags(ctx context.Context, caller Caller, filter *schema.TagSearchFilter) ([]*schema.TagDefinition, error)

	CreateTag(ctx context.Context, caller Caller, def *schema.TagDefinition) error
	UpdateTag(ctx context.Context, caller Caller, def *schema.TagDefinition) error
	DeleteTag(ctx context.Context, caller Caller, tagID string) error

	FindStateSets(ctx context.Context, caller Caller, pattern string) ([]*schema.StateSet, error)
	GetStateSet(ctx context.Context, caller Caller, name string) (*schema.StateSet, error)
	CreateStateSet(ctx context.Context, caller Caller, set *schema.StateSet) error
	UpdateStateSet(ctx context.Context, caller Caller, set *schema.StateSet) error
	DeleteStateSet(ctx context.Context, caller Caller, name string) error

	// ReadRaw returns archived samples of one tag in [start, end],
	// capped to at most pointCount samples (0 means the backend's own
	// cap).
	ReadRaw(ctx context.Context, caller Caller, tagID string, start, end time.Time, pointCount int) ([]schema.TagValue, error)

	// ReadProcessedNative computes a data function inside the backend.
	// Backends without native support return schema.ErrUnsupported and
	// the historian aggregates locally.
	ReadProcessedNative(ctx context.Context, caller Caller, tagID string, fn schema.DataFunction, start, end time.Time, interval time.Duration) (*schema.ProcessedSeries, error)

	// SupportsDataFunction reports native support for fn.
	SupportsDataFunction(fn schema.DataFunction) bool

	// InsertArchiveValues persists one archive batch and, separately,
	// the next archive candidate. Stored series are re-sorted when
	// inserts predate existing samples; at equal instants the new
	// sample replaces the old one.
	InsertArchiveValues(ctx context.Context, tagID string, batch []schema.TagValue, nextCandidate *schema.TagValue) (schema.WriteResult, error)

	// ReadArchiveCandidate returns the candidate persisted by the last
	// InsertArchiveValues, if any.
	ReadArchiveCandidate(ctx context.Context, tagID string) (*schema.TagValue, error)

	// SaveSnapshot persists a tag's snapshot. May be a no-op when
	// snapshots are held in memory only.
	SaveSnapshot(ctx context.Context, tagID string, v schema.TagValue) error

	// ReadSnapshot returns the last saved snapshot, or nil.
	ReadSnapshot(ctx context.Context, tagID string) (*schema.TagValue, error)
}
