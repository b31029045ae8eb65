// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reporter emits time-based throughput metrics from a
// background goroutine.
//
// The reporter owns the step counters the foreground loop increments
// and, on a fixed interval, converts them into steps-per-minute stats
// pushed to the metrics sink. Its lifecycle is independent of the
// foreground episode path: Stopped until Start, Running until Stop or
// until the sink fails.
package reporter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/roboeval/services/eval_logger/sink"
	"github.com/AleutianAI/roboeval/services/eval_logger/telemetry"
)

// Metric keys emitted on every flush.
const (
	KeyTotalSteps     = "step_stats/total_eval_steps"
	KeyStepsPerMinute = "step_stats/eval_steps_per_minute"
	KeyTotalElapsed   = "total_time_elapsed"

	// stepStatsPattern is declared once against the elapsed-time axis.
	stepStatsPattern = "step_stats/*"
)

// Reporter periodically logs step throughput to the sink.
//
// Two execution contexts touch a Reporter: the foreground evaluation
// loop calling IncrementStep, and the reporter's own goroutine reading
// and resetting the interval counter. The shared counters are guarded
// by a mutex so the read-and-reset on flush is atomic with respect to
// increments.
type Reporter struct {
	sink     sink.Sink
	interval time.Duration

	mu              sync.Mutex
	totalSteps      int
	stepsSinceFlush int
	elapsedMinutes  float64
	lastFlush       time.Time // zero until the first wake records a baseline

	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a reporter in the Stopped state.
func New(s sink.Sink, interval time.Duration) *Reporter {
	return &Reporter{
		sink:     s,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background loop.
//
// A reporter with no sink or a non-positive interval stays Stopped;
// Start is then a no-op. Start must be called at most once.
func (r *Reporter) Start() {
	if r.sink == nil || r.interval <= 0 {
		return
	}

	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	go r.loop()
}

// Running reports whether the background loop is active.
func (r *Reporter) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// IncrementStep records one foreground evaluation step.
//
// Cheap and safe to call concurrently with the background flush.
func (r *Reporter) IncrementStep() {
	r.mu.Lock()
	r.totalSteps++
	r.stepsSinceFlush++
	r.mu.Unlock()
}

// TotalSteps returns the number of steps recorded so far.
func (r *Reporter) TotalSteps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSteps
}

// Stop signals the loop to exit and waits for it, bounded by one
// second.
//
// Stop is idempotent and safe to call from any goroutine, including
// from within a sink callback running on the reporter's own loop: the
// bounded wait means a self-stop cannot deadlock joining itself.
func (r *Reporter) Stop() {
	r.mu.Lock()
	wasRunning := r.running
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stopCh) })

	if !wasRunning {
		return
	}

	select {
	case <-r.doneCh:
	case <-time.After(time.Second):
		slog.Warn("Periodic reporter did not exit within 1s of stop")
	}
}

// loop is the background goroutine body.
//
// Each iteration flushes first (the first flush only records the time
// baseline), then waits out the interval with an interruptible select.
// A sink failure terminates the loop: a broken dashboard should not
// keep a background task spinning for the rest of the run.
func (r *Reporter) loop() {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.doneCh)
	}()

	for {
		if err := r.flush(); err != nil {
			slog.Error("Periodic step-stats logging failed, stopping reporter", "error", err)
			return
		}

		select {
		case <-r.stopCh:
			return
		case <-time.After(r.interval):
		}
	}
}

// flush computes and emits throughput since the previous flush.
func (r *Reporter) flush() error {
	now := time.Now()

	r.mu.Lock()
	if r.lastFlush.IsZero() {
		// First wake: record the baseline, nothing to report yet.
		r.lastFlush = now
		r.mu.Unlock()
		return nil
	}

	minutesElapsed := now.Sub(r.lastFlush).Minutes()
	r.elapsedMinutes += minutesElapsed

	stepsPerMinute := 0.0
	if minutesElapsed > 0 {
		stepsPerMinute = float64(r.stepsSinceFlush) / minutesElapsed
	}

	total := r.totalSteps
	elapsedTotal := r.elapsedMinutes

	// Read-and-reset is atomic with respect to IncrementStep.
	r.stepsSinceFlush = 0
	r.lastFlush = now
	r.mu.Unlock()

	r.sink.DefineMetric(stepStatsPattern, sink.StepKeyElapsed)
	err := r.sink.Log(map[string]any{
		KeyTotalSteps:     total,
		KeyStepsPerMinute: stepsPerMinute,
		KeyTotalElapsed:   elapsedTotal,
	})
	telemetry.RecordReporterFlush(err)
	return err
}
