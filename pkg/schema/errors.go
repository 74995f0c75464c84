// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"errors"
)

// Error kinds shared across the engine and its adapters. Callers match
// them with errors.Is; sites wrap them with context via fmt.Errorf
// and %w. Cancellation is reported through context.Context errors.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrPreconditionFailed = errors.New("historian not initialized")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrUnsupported        = errors.New("unsupported")
	ErrBackend            = errors.New("backend failure")
)
