// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package memorystore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/pkg/schema"
)

// wildcardRegexp translates a tag search pattern into an anchored,
// case-insensitive regular expression. '*' matches any substring and
// '?' one character; every other regex metacharacter is literal.
func wildcardRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// FindTags runs a paged wildcard search over the tags the caller can
// read, ordered by name (case-insensitive) and sliced 1-based.
func (ms *MemoryStore) FindTags(ctx context.Context, caller historian.Caller, filter *schema.TagSearchFilter) ([]*schema.TagDefinition, error) {
	matchers := make([]func(*schema.TagDefinition) bool, 0, len(filter.Clauses))
	for _, c := range filter.Clauses {
		re, err := wildcardRegexp(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern '%s'", schema.ErrInvalidArgument, c.Pattern)
		}
		field := c.Field
		matchers = append(matchers, func(def *schema.TagDefinition) bool {
			switch field {
			case schema.SearchDescription:
				return re.MatchString(def.Description)
			case schema.SearchUnits:
				return re.MatchString(def.Units)
			default:
				return re.MatchString(def.Name)
			}
		})
	}

	ms.mu.RLock()
	matched := []*schema.TagDefinition{}
	for _, e := range ms.tags {
		if !isSystem(caller) && !ms.policy.CanRead(caller, e.def) {
			continue
		}
		if matches(e.def, matchers, filter.Join) {
			matched = append(matched, copyDef(e.def))
		}
	}
	ms.mu.RUnlock()

	sortDefsByName(matched)

	lo := (filter.Page - 1) * filter.PageSize
	if lo >= len(matched) {
		return []*schema.TagDefinition{}, nil
	}
	hi := lo + filter.PageSize
	if hi > len(matched) {
		hi = len(matched)
	}
	return matched[lo:hi], nil
}

func matches(def *schema.TagDefinition, matchers []func(*schema.TagDefinition) bool, join schema.SearchJoin) bool {
	if len(matchers) == 0 {
		return true
	}
	if join == schema.JoinOr {
		for _, m := range matchers {
			if m(def) {
				return true
			}
		}
		return false
	}
	for _, m := range matchers {
		if !m(def) {
			return false
		}
	}
	return true
}
