// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lulzzz/aika/pkg/schema"
)

func (api *RestApi) searchTags(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	filter := schema.TagSearchFilter{
		Page:     intParam(r, "page", 1),
		PageSize: intParam(r, "page-size", 50),
		Join:     schema.SearchJoin(r.URL.Query().Get("join")),
	}
	for field, key := range map[schema.SearchField]string{
		schema.SearchName:        "name",
		schema.SearchDescription: "description",
		schema.SearchUnits:       "units",
	} {
		if pattern := r.URL.Query().Get(key); pattern != "" {
			filter.Clauses = append(filter.Clauses, schema.SearchClause{Field: field, Pattern: pattern})
		}
	}

	defs, err := api.Historian.SearchTags(r.Context(), caller, filter)
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, defs)
}

func (api *RestApi) createTag(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	var settings schema.TagSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		handleError(fmt.Errorf("%w: %v", schema.ErrInvalidArgument, err), http.StatusBadRequest, rw)
		return
	}

	def, err := api.Historian.CreateTag(r.Context(), caller, settings)
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	rw.WriteHeader(http.StatusCreated)
	writeJSON(rw, def)
}

func (api *RestApi) getTag(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	defs, err := api.Historian.ResolveTags(r.Context(), caller, []string{id})
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	def, ok := defs[id]
	if !ok {
		handleError(fmt.Errorf("%w: tag '%s'", schema.ErrNotFound, id), http.StatusNotFound, rw)
		return
	}
	writeJSON(rw, def)
}

// UpdateTagApiRequest model
type UpdateTagApiRequest struct {
	Settings    schema.TagSettingsUpdate `json:"settings"`
	Description string                   `json:"description"`
}

func (api *RestApi) updateTag(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	var req UpdateTagApiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(fmt.Errorf("%w: %v", schema.ErrInvalidArgument, err), http.StatusBadRequest, rw)
		return
	}

	def, err := api.Historian.UpdateTag(r.Context(), caller, mux.Vars(r)["id"], req.Settings, req.Description)
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, def)
}

func (api *RestApi) deleteTag(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	if err := api.Historian.DeleteTag(r.Context(), caller, mux.Vars(r)["id"]); err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (api *RestApi) findStateSets(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	sets, err := api.Historian.FindStateSets(r.Context(), caller, r.URL.Query().Get("name"))
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, sets)
}

func (api *RestApi) getStateSet(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	set, err := api.Historian.GetStateSet(r.Context(), caller, mux.Vars(r)["name"])
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, set)
}

func (api *RestApi) createStateSet(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	var set schema.StateSet
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		handleError(fmt.Errorf("%w: %v", schema.ErrInvalidArgument, err), http.StatusBadRequest, rw)
		return
	}

	created, err := api.Historian.CreateStateSet(r.Context(), caller, set)
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	rw.WriteHeader(http.StatusCreated)
	writeJSON(rw, created)
}

func (api *RestApi) updateStateSet(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	var set schema.StateSet
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		handleError(fmt.Errorf("%w: %v", schema.ErrInvalidArgument, err), http.StatusBadRequest, rw)
		return
	}
	set.Name = mux.Vars(r)["name"]

	updated, err := api.Historian.UpdateStateSet(r.Context(), caller, set)
	if err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	writeJSON(rw, updated)
}

func (api *RestApi) deleteStateSet(rw http.ResponseWriter, r *http.Request) {
	caller, ok := api.caller(rw, r)
	if !ok {
		return
	}

	if err := api.Historian.DeleteStateSet(r.Context(), caller, mux.Vars(r)["name"]); err != nil {
		handleError(err, errorStatus(err), rw)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}
