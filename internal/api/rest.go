// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api is the REST boundary adapter over the historian facade.
// It only translates HTTP to the typed engine API; all semantics live
// in internal/historian.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/lulzzz/aika/internal/auth"
	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/pkg/log"
	"github.com/lulzzz/aika/pkg/schema"
)

type RestApi struct {
	Historian      *historian.Historian
	Authentication *auth.JWTAuthenticator
	// Nil when write rate limiting is disabled.
	WriteLimiter *rate.Limiter
}

func (api *RestApi) MountRoutes(r *mux.Router) {
	r = r.PathPrefix("/api").Subrouter()
	r.StrictSlash(true)

	r.HandleFunc("/tags/", api.searchTags).Methods(http.MethodGet)
	r.HandleFunc("/tags/", api.createTag).Methods(http.MethodPost)
	r.HandleFunc("/tags/{id}", api.getTag).Methods(http.MethodGet)
	r.HandleFunc("/tags/{id}", api.updateTag).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/tags/{id}", api.deleteTag).Methods(http.MethodDelete)

	r.HandleFunc("/statesets/", api.findStateSets).Methods(http.MethodGet)
	r.HandleFunc("/statesets/", api.createStateSet).Methods(http.MethodPost)
	r.HandleFunc("/statesets/{name}", api.getStateSet).Methods(http.MethodGet)
	r.HandleFunc("/statesets/{name}", api.updateStateSet).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/statesets/{name}", api.deleteStateSet).Methods(http.MethodDelete)

	r.HandleFunc("/snapshots/", api.readSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/raw/", api.readRaw).Methods(http.MethodGet)
	r.HandleFunc("/processed/", api.readProcessed).Methods(http.MethodGet)
	r.HandleFunc("/plot/", api.readPlot).Methods(http.MethodGet)

	r.HandleFunc("/write/snapshot/", api.writeSnapshots).Methods(http.MethodPost)
	r.HandleFunc("/write/archive/", api.insertArchive).Methods(http.MethodPost)
}

// caller resolves the request identity: verified token, or the
// anonymous caller when authentication is disabled.
func (api *RestApi) caller(rw http.ResponseWriter, r *http.Request) (historian.Caller, bool) {
	if api.Authentication == nil {
		return auth.Anonymous, true
	}
	user, err := api.Authentication.AuthViaRequest(r)
	if err != nil {
		handleError(fmt.Errorf("%w: %v", schema.ErrUnauthorized, err), http.StatusUnauthorized, rw)
		return nil, false
	}
	return user, true
}

func (api *RestApi) allowWrite(rw http.ResponseWriter) bool {
	if api.WriteLimiter != nil && !api.WriteLimiter.Allow() {
		handleError(errors.New("write rate limit exceeded"), http.StatusTooManyRequests, rw)
		return false
	}
	return true
}

// ErrorResponse model
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	log.Warnf("REST ERROR : %s", err.Error())
	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(ErrorResponse{
		Status: http.StatusText(statusCode),
		Error:  err.Error(),
	})
}

// errorStatus maps engine error kinds to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, schema.ErrPreconditionFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, schema.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, schema.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidArgument), errors.Is(err, schema.ErrUnsupported):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(rw http.ResponseWriter, payload interface{}) {
	rw.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(payload); err != nil {
		log.Errorf("Encoding response failed: %v", err)
	}
}

func tagsParam(r *http.Request) []string {
	var tags []string
	for _, raw := range r.URL.Query()["tags"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

// timeParam accepts RFC3339 or unix seconds.
func timeParam(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(ts, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339 or unix seconds", schema.ErrInvalidArgument, key)
	}
	return t.UTC(), nil
}

func intParam(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}
