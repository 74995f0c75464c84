// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// TagDataType fixes how incoming sample values are validated and
// canonicalized.
type TagDataType string

const (
	TypeFloat   TagDataType = "float"
	TypeInteger TagDataType = "integer"
	TypeText    TagDataType = "text"
	TypeState   TagDataType = "state"
)

func (t TagDataType) Valid() bool {
	return t == TypeFloat || t == TypeInteger || t == TypeText || t == TypeState
}

// ChangeEntry is one append-only change-history record of a tag.
type ChangeEntry struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	User        string    `json:"user"`
	Description string    `json:"description"`
}

// TagDefinition is the persisted/wire form of a tag. The runtime state
// (filter internals, subscription set, archive queue) lives on the
// historian's Tag object, not here.
type TagDefinition struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Units         string         `json:"units,omitempty"`
	DataType      TagDataType    `json:"data-type"`
	StateSet      string         `json:"state-set,omitempty"`
	Exception     FilterSettings `json:"exception-filter"`
	Compression   FilterSettings `json:"compression-filter"`
	Created       time.Time      `json:"created"`
	Modified      time.Time      `json:"modified"`
	ChangeHistory []ChangeEntry  `json:"change-history,omitempty"`
	Snapshot      *TagValue      `json:"snapshot,omitempty"`
}

// TagSettings creates a tag. Zero-valued optional fields get defaults
// before the definition reaches the backend.
type TagSettings struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Units       string          `json:"units,omitempty"`
	DataType    TagDataType     `json:"data-type"`
	StateSet    string          `json:"state-set,omitempty"`
	Exception   *FilterSettings `json:"exception-filter,omitempty"`
	Compression *FilterSettings `json:"compression-filter,omitempty"`
}

func (s *TagSettings) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: tag name must not be blank", ErrInvalidArgument)
	}
	if s.DataType != "" && !s.DataType.Valid() {
		return fmt.Errorf("%w: unknown data type '%s'", ErrInvalidArgument, s.DataType)
	}
	if s.DataType == TypeState && strings.TrimSpace(s.StateSet) == "" {
		return fmt.Errorf("%w: state tags require a state set", ErrInvalidArgument)
	}
	if s.DataType != TypeState && s.StateSet != "" {
		return fmt.Errorf("%w: only state tags may name a state set", ErrInvalidArgument)
	}
	if s.Exception != nil {
		if err := s.Exception.Validate(); err != nil {
			return err
		}
	}
	if s.Compression != nil {
		if err := s.Compression.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TagSettingsUpdate is a partial tag update: nil fields keep their
// current values.
type TagSettingsUpdate struct {
	Name        *string               `json:"name,omitempty"`
	Description *string               `json:"description,omitempty"`
	Units       *string               `json:"units,omitempty"`
	DataType    *TagDataType          `json:"data-type,omitempty"`
	StateSet    *string               `json:"state-set,omitempty"`
	Exception   *FilterSettingsUpdate `json:"exception-filter,omitempty"`
	Compression *FilterSettingsUpdate `json:"compression-filter,omitempty"`
}

// SearchField selects which tag property a search clause matches.
type SearchField string

const (
	SearchName        SearchField = "name"
	SearchDescription SearchField = "description"
	SearchUnits       SearchField = "units"
)

// SearchJoin combines multiple clauses.
type SearchJoin string

const (
	JoinAnd SearchJoin = "and"
	JoinOr  SearchJoin = "or"
)

// SearchClause matches one tag property against a wildcard pattern.
// '*' matches any substring, '?' one character, case-insensitive;
// other regex metacharacters are literal.
type SearchClause struct {
	Field   SearchField `json:"field"`
	Pattern string      `json:"pattern"`
}

// TagSearchFilter is a paged wildcard search over the tag registry.
// Pages are 1-based; results are ordered by tag name, case-insensitive.
type TagSearchFilter struct {
	Page     int            `json:"page"`
	PageSize int            `json:"page-size"`
	Clauses  []SearchClause `json:"clauses,omitempty"`
	Join     SearchJoin     `json:"join,omitempty"`
}

// Normalize fills defaults and validates ranges.
func (f *TagSearchFilter) Normalize() error {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = 50
	}
	if f.Page < 1 || f.PageSize < 1 {
		return fmt.Errorf("%w: page and page size start at 1", ErrInvalidArgument)
	}
	if f.Join == "" {
		f.Join = JoinAnd
	}
	if f.Join != JoinAnd && f.Join != JoinOr {
		return fmt.Errorf("%w: unknown join '%s'", ErrInvalidArgument, f.Join)
	}
	for _, c := range f.Clauses {
		switch c.Field {
		case SearchName, SearchDescription, SearchUnits:
		default:
			return fmt.Errorf("%w: unknown search field '%s'", ErrInvalidArgument, c.Field)
		}
	}
	return nil
}
