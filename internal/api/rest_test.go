// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lulzzz/aika/internal/api"
	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/internal/memorystore"
	"github.com/lulzzz/aika/pkg/schema"
)

func testServer(t *testing.T) (*httptest.Server, *historian.Historian) {
	t.Helper()
	h := historian.New(memorystore.New(), nil)
	require.NoError(t, h.Init(context.Background()))
	t.Cleanup(h.Shutdown)

	r := mux.NewRouter()
	restApi := &api.RestApi{Historian: h}
	restApi.MountRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h
}

func TestTagLifecycleOverRest(t *testing.T) {
	srv, _ := testServer(t)
	client := srv.Client()

	// Create.
	resp, err := client.Post(srv.URL+"/api/tags/", "application/json",
		strings.NewReader(`{"name": "Plant.Flow", "data-type": "float", "units": "l/min"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Duplicate name is a client error.
	resp, err = client.Post(srv.URL+"/api/tags/", "application/json",
		strings.NewReader(`{"name": "plant.flow"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Write snapshots.
	body := `{"Plant.Flow": [
		{"time": "2023-05-04T12:00:00Z", "value": 1.5, "quality": "good"},
		{"time": "2023-05-04T12:00:01Z", "value": 2.5, "quality": "good"}
	]}`
	resp, err = client.Post(srv.URL+"/api/write/snapshot/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Read the snapshot back.
	resp, err = client.Get(srv.URL + "/api/snapshots/?tags=Plant.Flow")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snaps map[string]schema.TagValue
	require.NoError(t, jsonDecode(resp, &snaps))
	assert.Equal(t, schema.Float(2.5), snaps["Plant.Flow"].Value)

	// Unknown tags read as not found.
	resp, err = client.Get(srv.URL + "/api/tags/No.Such.Tag")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRawReadOverRest(t *testing.T) {
	srv, h := testServer(t)
	client := srv.Client()

	exc := schema.FilterSettings{LimitType: schema.LimitAbsolute, WindowSize: schema.Duration(schema.DefaultWindowSize)}
	_, err := h.CreateTag(context.Background(), historian.System, schema.TagSettings{
		Name: "Plant.Flow", DataType: schema.TypeFloat, Exception: &exc, Compression: &exc,
	})
	require.NoError(t, err)

	epoch := time.Date(2023, 5, 4, 12, 0, 0, 0, time.UTC)
	_, err = h.InsertArchive(context.Background(), historian.System, map[string][]schema.TagValue{
		"Plant.Flow": {
			schema.NewNumericValue(epoch, 1, schema.QualityGood, ""),
			schema.NewNumericValue(epoch.Add(time.Second), 2, schema.QualityGood, ""),
		},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		raw, err := h.ReadRaw(context.Background(), historian.System, []string{"Plant.Flow"}, epoch, epoch.Add(time.Minute), 0)
		return err == nil && len(raw["Plant.Flow"]) == 2
	}, time.Second, 5*time.Millisecond)

	resp, err := client.Get(srv.URL + "/api/raw/?tags=Plant.Flow&start=2023-05-04T12:00:00Z&end=2023-05-04T13:00:00Z")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string][]schema.TagValue
	require.NoError(t, jsonDecode(resp, &raw))
	assert.Len(t, raw["Plant.Flow"], 2)
}
