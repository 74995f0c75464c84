// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lulzzz/aika/pkg/schema"
)

func (api *RestApi) readSnapshots(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	values, err := api.Historian.ReadSnapshots(r.Context(), caller, tagsParam(r), time.Now().UTC())
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, values)
}

func (api *RestApi) readRaw(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	start, err := timeParam(r, "start", now.Add(-time.Hour))
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	end, err := timeParam(r, "end", now)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	values, err := api.Historian.ReadRaw(r.Context(), caller, tagsParam(r), start, end, intParam(r, "count", 0))
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, values)
}

func (api *RestApi) readProcessed(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	start, err := timeParam(r, "start", now.Add(-time.Hour))
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	end, err := timeParam(r, "end", now)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	var interval time.Duration
	if raw := r.URL.Query().Get("interval"); raw != "" {
		if interval, err = time.ParseDuration(raw); err != nil {
			handleError(fmt.Errorf("%w: interval: %v", schema.ErrInvalidArgument, err), http.StatusBadRequest, rw)
			return
		}
	}

	series, err := api.Historian.ReadProcessed(r.Context(), caller, tagsParam(r),
		schema.ParseDataFunction(r.URL.Query().Get("fn")), start, end, interval, intParam(r, "points", 0))
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, series)
}

func (api *RestApi) readPlot(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	start, err := timeParam(r, "start", now.Add(-time.Hour))
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	end, err := timeParam(r, "end", now)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	series, err := api.Historian.ReadPlot(r.Context(), caller, tagsParam(r), start, end, intParam(r, "intervals", 100))
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, series)
}

func (api *RestApi) writeSnapshots(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}
	if !api.allowWrite(rw) {
		return
	}

	var batches map[string][]schema.TagValue
	if err := json.NewDecoder(r.Body).Decode(&batches); err != nil {
		handleError(fmt.Errorf("%w: %v", schema.ErrInvalidArgument, err), http.StatusBadRequest, rw)
		return
	}

	results, err := api.Historian.WriteSnapshots(r.Context(), caller, batches)
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, results)
}

func (api *RestApi) insertArchive(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}
	if !api.allowWrite(rw) {
		return
	}

	var batches map[string][]schema.TagValue
	if err := json.NewDecoder(r.Body).Decode(&batches); err != nil {
		handleError(fmt.Errorf("%w: %v", schema.ErrInvalidArgument, err), http.StatusBadRequest, rw)
		return
	}

	results, err := api.Historian.InsertArchive(r.Context(), caller, batches)
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, results)
}
