// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"fmt"
	"time"
)

// LimitType selects how a filter deviation limit is interpreted
// relative to the last significant value.
type LimitType string

const (
	// Limit is an absolute deviation in engineering units.
	LimitAbsolute LimitType = "absolute"
	// Limit is a fraction of the last value (0.05 == 5%).
	LimitFraction LimitType = "fraction"
	// Limit is a percentage of the last value (5 == 5%).
	LimitPercentage LimitType = "percentage"
)

func (l LimitType) Valid() bool {
	return l == LimitAbsolute || l == LimitFraction || l == LimitPercentage
}

// DefaultWindowSize is the maximum age of the last significant sample
// before a filter passes the next sample unconditionally.
const DefaultWindowSize = 24 * time.Hour

// FilterSettings configures an exception or compression filter on a tag.
type FilterSettings struct {
	Enabled    bool      `json:"enabled"`
	LimitType  LimitType `json:"limit-type"`
	Limit      float64   `json:"limit"`
	WindowSize Duration  `json:"window-size"`
}

// DefaultFilterSettings returns a disabled absolute filter with the
// default window.
func DefaultFilterSettings() FilterSettings {
	return FilterSettings{
		Enabled:    false,
		LimitType:  LimitAbsolute,
		Limit:      0,
		WindowSize: Duration(DefaultWindowSize),
	}
}

func (s FilterSettings) Validate() error {
	if !s.LimitType.Valid() {
		return fmt.Errorf("%w: unknown limit type '%s'", ErrInvalidArgument, s.LimitType)
	}
	if s.Limit < 0 {
		return fmt.Errorf("%w: filter limit must not be negative", ErrInvalidArgument)
	}
	if s.WindowSize < 0 {
		return fmt.Errorf("%w: filter window size must not be negative", ErrInvalidArgument)
	}
	return nil
}

// FilterSettingsUpdate is a partial update: nil fields keep their
// current values.
type FilterSettingsUpdate struct {
	Enabled    *bool      `json:"enabled,omitempty"`
	LimitType  *LimitType `json:"limit-type,omitempty"`
	Limit      *float64   `json:"limit,omitempty"`
	WindowSize *Duration  `json:"window-size,omitempty"`
}

// Apply merges the update into the settings and returns the result.
func (s FilterSettings) Apply(u *FilterSettingsUpdate) FilterSettings {
	if u == nil {
		return s
	}
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	if u.LimitType != nil {
		s.LimitType = *u.LimitType
	}
	if u.Limit != nil {
		s.Limit = *u.Limit
	}
	if u.WindowSize != nil {
		s.WindowSize = *u.WindowSize
	}
	return s
}
