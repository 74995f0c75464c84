// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics instruments the historian write and archive paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set carries the historian's instruments. It is instance-scoped and
// registered at construction so that embedding applications can bring
// their own registry.
type Set struct {
	SamplesReceived   prometheus.Counter
	SamplesAccepted   prometheus.Counter
	SamplesInvalid    prometheus.Counter
	SamplesArchived   prometheus.Counter
	BackendErrors     prometheus.Counter
	ArchiveQueueDepth prometheus.Gauge
}

func New(reg prometheus.Registerer) *Set {
	s := &Set{
		SamplesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aika_samples_received_total",
			Help: "Samples offered to the snapshot write path.",
		}),
		SamplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aika_samples_accepted_total",
			Help: "Samples that passed the exception filter and became snapshots.",
		}),
		SamplesInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aika_samples_invalid_total",
			Help: "Samples rejected by data type or state validation.",
		}),
		SamplesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aika_samples_archived_total",
			Help: "Samples written to the archive, from the compression filter and from direct archive inserts.",
		}),
		BackendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aika_backend_errors_total",
			Help: "Failed backend archive inserts.",
		}),
		ArchiveQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aika_archive_queue_depth",
			Help: "Pending archive writes over all tags.",
		}),
	}

	if reg != nil {
		reg.MustRegister(s.SamplesReceived, s.SamplesAccepted, s.SamplesInvalid,
			s.SamplesArchived, s.BackendErrors, s.ArchiveQueueDepth)
	}
	return s
}
