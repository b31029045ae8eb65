// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry instruments the eval_logger pipeline itself.
//
// These are operational metrics about the pipeline (upload retries,
// reporter flushes), not the evaluation metrics the pipeline carries.
// Evaluation metrics go to the configured sink; these go to the process
// Prometheus registry.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Eval Logger Pipeline
// =============================================================================

var (
	// episodesLogged counts completed episodes flowing through the
	// coordinator. Labels: robot_type, outcome (success, failure)
	episodesLogged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roboeval",
		Subsystem: "logger",
		Name:      "episodes_total",
		Help:      "Total evaluation episodes logged",
	}, []string{"robot_type", "outcome"})

	// uploadOutcomes counts mirror upload results.
	// Labels: status (success, retried_success, failed, dropped)
	uploadOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roboeval",
		Subsystem: "mirror",
		Name:      "uploads_total",
		Help:      "Total remote mirror uploads by final status",
	}, []string{"status"})

	// uploadRetries counts individual retry attempts (not uploads).
	uploadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roboeval",
		Subsystem: "mirror",
		Name:      "upload_retries_total",
		Help:      "Total mirror upload retry attempts",
	})

	// uploadDuration measures end-to-end upload time including backoff.
	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roboeval",
		Subsystem: "mirror",
		Name:      "upload_duration_seconds",
		Help:      "Mirror upload duration including retries and backoff",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// reporterFlushes counts periodic reporter wakes that emitted.
	// Labels: status (success, error)
	reporterFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roboeval",
		Subsystem: "reporter",
		Name:      "flushes_total",
		Help:      "Total periodic step-stats flushes by status",
	}, []string{"status"})
)

// RecordEpisode counts one completed episode.
func RecordEpisode(robotType string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	episodesLogged.WithLabelValues(robotType, outcome).Inc()
}

// RecordUpload counts one finished mirror upload with its final status
// and observes its total duration in seconds.
func RecordUpload(status string, seconds float64) {
	uploadOutcomes.WithLabelValues(status).Inc()
	uploadDuration.Observe(seconds)
}

// RecordUploadRetry counts one retry attempt inside an upload.
func RecordUploadRetry() {
	uploadRetries.Inc()
}

// RecordReporterFlush counts one periodic flush.
func RecordReporterFlush(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	reporterFlushes.WithLabelValues(status).Inc()
}
