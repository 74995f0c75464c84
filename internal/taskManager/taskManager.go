// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskManager schedules the historian's background jobs:
// periodic snapshot flushes to the catalog and archive retention.
package taskManager

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/lulzzz/aika/internal/config"
	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/internal/memorystore"
	"github.com/lulzzz/aika/pkg/log"
)

type TaskManager struct {
	scheduler gocron.Scheduler
}

// Start registers and runs the configured background jobs.
func Start(h *historian.Historian, store *memorystore.MemoryStore) *TaskManager {
	s, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Taskmanager Start: Could not create gocron scheduler.\nError: %s\n", err.Error())
	}
	tm := &TaskManager{scheduler: s}

	if flush := config.Keys.SnapshotFlushInterval.Unwrap(); flush > 0 {
		registerSnapshotFlush(s, h, flush)
	}
	if retention := config.Keys.ArchiveRetention.Unwrap(); retention > 0 {
		registerRetention(s, store, retention)
	}

	s.Start()
	return tm
}

func (tm *TaskManager) Shutdown() {
	if err := tm.scheduler.Shutdown(); err != nil {
		log.Warnf("Taskmanager shutdown: %v", err)
	}
}

func registerSnapshotFlush(s gocron.Scheduler, h *historian.Historian, interval time.Duration) {
	log.Infof("Register snapshot flush service with interval %s", interval)
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if err := h.FlushSnapshots(ctx); err != nil {
				log.Warnf("Snapshot flush failed: %v", err)
			}
		})); err != nil {
		log.Errorf("Failed to register snapshot flush service: %v", err)
	}
}

func registerRetention(s gocron.Scheduler, store *memorystore.MemoryStore, retention time.Duration) {
	log.Infof("Register archive retention service, keeping %s", retention)
	if _, err := s.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			cutoff := time.Now().UTC().Add(-retention)
			if n := store.TrimArchiveBefore(cutoff); n > 0 {
				log.Infof("Archive retention trimmed %d samples older than %s", n, cutoff.Format(time.RFC3339))
			}
		})); err != nil {
		log.Errorf("Failed to register archive retention service: %v", err)
	}
}
