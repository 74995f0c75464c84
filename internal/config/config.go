// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/lulzzz/aika/pkg/log"
	"github.com/lulzzz/aika/pkg/schema"
)

// NatsConfig connects the measurement intake to a NATS subject.
type NatsConfig struct {
	Address  string `json:"address"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Subject  string `json:"subject"`
}

// ProgramConfig is the format of the configuration file.
// See Keys below for the defaults.
type ProgramConfig struct {
	// Address where the http server will listen on (for example 'localhost:8080').
	Addr string `json:"addr"`

	// Disable REST API token authentication; every request then runs
	// as the anonymous caller. NATS ingest is not affected.
	DisableAuthentication bool `json:"disable-authentication"`

	// Driver for the durable tag catalog; only 'sqlite3' is supported.
	// Empty disables the catalog and the historian runs fully volatile.
	DBDriver string `json:"db-driver"`

	// For sqlite3 the database filename.
	DB string `json:"db"`

	// Cap on raw samples returned per tag and query.
	MaxRawSamples int `json:"max-raw-samples"`

	// Archived samples older than this are trimmed periodically.
	// Zero keeps everything.
	ArchiveRetention schema.Duration `json:"archive-retention"`

	// How often tag snapshots are flushed to the catalog.
	SnapshotFlushInterval schema.Duration `json:"snapshot-flush-interval"`

	// Sustained API write requests per second; 0 disables limiting.
	WriteRateLimit float64 `json:"write-rate-limit"`

	// API write request burst size.
	WriteRateBurst int `json:"write-rate-burst"`

	Nats *NatsConfig `json:"nats,omitempty"`
}

var Keys ProgramConfig = ProgramConfig{
	Addr:                  ":8080",
	DisableAuthentication: false,
	DBDriver:              "sqlite3",
	DB:                    "./var/aika.db",
	MaxRawSamples:         5000,
	SnapshotFlushInterval: schema.Duration(time.Minute),
	WriteRateLimit:        0,
	WriteRateBurst:        100,
}

// Init loads the config file if it exists. Missing file means
// defaults; an invalid file is fatal.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Config file %s: %v", flagConfigFile, err)
		}
		return
	}

	if err := schema.Validate(schema.Config, bytes.NewReader(raw)); err != nil {
		log.Fatalf("Validate config: %v\n", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Fatal(err)
	}

	if Keys.MaxRawSamples < 1 {
		log.Fatal("Config 'max-raw-samples' must be at least 1")
	}
}
