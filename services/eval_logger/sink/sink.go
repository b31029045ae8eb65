// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink abstracts the metrics dashboard the evaluation reports
// into.
//
// The coordinator and the periodic reporter both talk to a Sink: the
// coordinator pushes per-episode metric maps keyed on the episode index,
// the reporter pushes throughput stats keyed on cumulative elapsed time.
// DefineMetric declares which step axis a family of keys uses before the
// first emission under that family.
//
// Two implementations ship with the service: InfluxSink writes points to
// an InfluxDB bucket, MemorySink records everything in order for tests
// and dry runs.
package sink

import "sync"

// Well-known step-axis keys.
const (
	// StepKeyEpisode is the episode-index axis used for per-episode
	// metrics.
	StepKeyEpisode = "num_episode"

	// StepKeyElapsed is the cumulative-elapsed-minutes axis used for
	// step-rate metrics.
	StepKeyElapsed = "total_time_elapsed"
)

// Sink receives metric maps from the evaluation pipeline.
//
// Implementations must tolerate being called from the foreground
// episode path and the background reporter goroutine concurrently.
type Sink interface {
	// DefineMetric declares that keys matching pattern (a prefix glob
	// like "pick/*" or "step_stats/*") use stepKey as their step axis.
	// Called before the first Log carrying such keys; calling it again
	// for the same pattern is a no-op.
	DefineMetric(pattern, stepKey string)

	// Log pushes one metric map. The map may carry a step-axis value
	// under one of the StepKey constants.
	Log(values map[string]any) error

	// Close flushes and releases the sink.
	Close() error
}

// =============================================================================
// Memory Sink
// =============================================================================

// AxisDef records one DefineMetric call.
type AxisDef struct {
	Pattern string
	StepKey string
}

// MemorySink is an in-process Sink that records every call in order.
//
// Used by the test suites and by the CLI's dry-run mode, where metric
// maps are printed instead of shipped to a dashboard.
type MemorySink struct {
	mu sync.Mutex

	axes    []AxisDef
	axisSet map[string]string

	logs []map[string]any

	// FailWith, when non-nil, makes every Log call return this error.
	// Lets tests exercise the reporter's terminate-on-sink-failure
	// path.
	FailWith error
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{axisSet: make(map[string]string)}
}

// DefineMetric records the axis declaration, deduplicating by pattern.
func (m *MemorySink) DefineMetric(pattern, stepKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.axisSet[pattern]; seen {
		return
	}
	m.axisSet[pattern] = stepKey
	m.axes = append(m.axes, AxisDef{Pattern: pattern, StepKey: stepKey})
}

// Log stores a copy of the metric map.
func (m *MemorySink) Log(values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	m.logs = append(m.logs, copied)
	return nil
}

// Close is a no-op for the memory sink.
func (m *MemorySink) Close() error { return nil }

// Logs returns the recorded metric maps in emission order.
func (m *MemorySink) Logs() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.logs))
	copy(out, m.logs)
	return out
}

// Axes returns the recorded axis definitions in declaration order.
func (m *MemorySink) Axes() []AxisDef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AxisDef, len(m.axes))
	copy(out, m.axes)
	return out
}

// AxisFor returns the declared step axis for a pattern ("" if absent).
func (m *MemorySink) AxisFor(pattern string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.axisSet[pattern]
}
