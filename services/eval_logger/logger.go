// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evallogger is the front door of the evaluation telemetry
// pipeline.
//
// An EvalLogger fans one stream of evaluation events out to three
// consumers: live metrics (success rates, step throughput) on a metrics
// sink, rendered frame artifacts from the visualizer, and durable
// per-episode records through a Saver. Callers drive it from a single
// foreground loop:
//
//	logger.SaveMetadata(...)            once, before anything else
//	logger.LogStep()                    after every action step
//	logger.LogEpisode(evallogger.Episode{...})  after every episode
//	logger.Stop()                       once, at teardown
package evallogger

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/roboeval/pkg/validation"
	"github.com/AleutianAI/roboeval/services/eval_logger/datatypes"
	"github.com/AleutianAI/roboeval/services/eval_logger/reporter"
	"github.com/AleutianAI/roboeval/services/eval_logger/sink"
	"github.com/AleutianAI/roboeval/services/eval_logger/storage"
	"github.com/AleutianAI/roboeval/services/eval_logger/tracker"
	"github.com/AleutianAI/roboeval/services/eval_logger/visualize"
)

// Episode carries everything a caller reports at the end of one
// evaluation episode. Index, Label and Success are required; the rest
// is optional.
type Episode struct {
	// Index is the zero-based episode number across the run.
	Index int

	// Label is the task label (language command) the episode evaluated.
	Label string

	// Success is the binary episode outcome.
	Success bool

	// Frames are the camera frames of the episode, in step order. Nil
	// skips visualization and frame persistence for this episode; an
	// empty non-nil slice keeps the visualizer's window aligned without
	// contributing frames.
	Frames []image.Image

	// PartialSuccess is optional graded credit in [0, 1].
	PartialSuccess    float64
	HasPartialSuccess bool

	// Optional per-step trajectory sequences, persisted verbatim.
	Action   [][]float64
	Proprio  [][]float64
	Velocity [][]float64
	Effort   [][]float64

	// EpisodeLength is the number of steps taken (0 when unreported).
	EpisodeLength int

	// EvalDuration is wall-clock episode duration in seconds.
	EvalDuration float64

	// LanguageFeedback is optional free-form operator feedback.
	LanguageFeedback string

	// Extra fields are logged to the sink under the label prefix and
	// persisted in the episode record. Values must be gob-encodable
	// (see datatypes.TrajData).
	Extra map[string]any
}

// Option configures an EvalLogger.
type Option func(*EvalLogger)

// WithSink attaches the metrics sink.
func WithSink(s sink.Sink) Option {
	return func(l *EvalLogger) { l.sink = s }
}

// WithVisualizer attaches the frame visualizer.
func WithVisualizer(v *visualize.FrameVisualizer) Option {
	return func(l *EvalLogger) { l.viz = v }
}

// WithSaver attaches durable storage.
func WithSaver(s storage.Saver) Option {
	return func(l *EvalLogger) { l.saver = s }
}

// WithStepStatsInterval enables periodic step-throughput reporting.
// Only takes effect when a sink is attached.
func WithStepStatsInterval(d time.Duration) Option {
	return func(l *EvalLogger) { l.stepStatsInterval = d }
}

// EvalLogger coordinates the success tracker, frame visualizer, metrics
// sink, periodic reporter, and durable storage for one evaluation run.
//
// All components are optional; a zero-option logger is a valid no-op.
// Not safe for concurrent use except for LogStep, which only touches
// the reporter's own synchronized counters.
type EvalLogger struct {
	sink              sink.Sink
	viz               *visualize.FrameVisualizer
	saver             storage.Saver
	stepStatsInterval time.Duration

	tracker  *tracker.SuccessTracker
	reporter *reporter.Reporter

	currentEpisode int

	stopOnce sync.Once
	stopErr  error
}

// New assembles a logger from options and, when a sink and a positive
// interval are present, starts the periodic reporter.
func New(opts ...Option) *EvalLogger {
	l := &EvalLogger{tracker: tracker.New()}
	for _, opt := range opts {
		opt(l)
	}

	l.reporter = reporter.New(l.sink, l.stepStatsInterval)
	l.reporter.Start()
	return l
}

// SaveMetadata creates the run identity and writes the run metadata.
// Must be called before the first LogEpisode when a saver is attached.
// A second call fails with datatypes.ErrMetadataExists.
func (l *EvalLogger) SaveMetadata(location, robotName string, robotType datatypes.RobotType, evaluatorName, evalName string) (string, error) {
	if l.saver == nil {
		slog.Warn("No saver attached, run metadata not persisted")
		return "", nil
	}
	return l.saver.SaveMetadata(location, robotName, robotType, evaluatorName, evalName)
}

// LogStep records one foreground action step. Call it at the end of
// every step; the periodic reporter turns the counts into
// steps-per-minute stats.
func (l *EvalLogger) LogStep() {
	l.reporter.IncrementStep()
}

// TotalSteps returns the number of action steps logged so far.
func (l *EvalLogger) TotalSteps() int {
	return l.reporter.TotalSteps()
}

// LogEpisode processes one completed episode through every attached
// component, in order: success tracking, frame visualization, metric
// emission, durable persistence.
//
// A sink failure is logged and does not abort the episode; the durable
// write still happens. A visualizer invariant violation or a storage
// failure aborts and is returned. The returned map holds everything
// that was (or would have been) emitted to the sink, keyed under the
// task label.
func (l *EvalLogger) LogEpisode(ep Episode) (map[string]any, error) {
	if err := validation.ValidateLabel(ep.Label); err != nil {
		return nil, fmt.Errorf("invalid task label: %w", err)
	}
	l.currentEpisode = ep.Index

	// Tracker first: the visualizer plots the series including this
	// episode's outcome.
	stats := l.tracker.Record(ep.Label, ep.Success)

	toLog := map[string]any{
		ep.Label + "/episode_success":        stats.EpisodeSuccess,
		ep.Label + "/cumulative_num_success": stats.CumulativeNumSuccess,
		ep.Label + "/recent_success_rate":    stats.RecentSuccessRate,
		ep.Label + "/overall_success_rate":   stats.OverallSuccessRate,
	}

	if l.viz != nil {
		artifacts, err := l.viz.LogFrames(ep.Index, ep.Label, ep.Frames, l.tracker.Series(ep.Label))
		if err != nil {
			return nil, err
		}
		for key, artifact := range artifacts {
			toLog[key] = artifact.Path
		}
	}

	if ep.HasPartialSuccess {
		toLog[ep.Label+"/partial_success"] = ep.PartialSuccess
	}
	if ep.EpisodeLength > 0 {
		toLog[ep.Label+"/episode_length"] = ep.EpisodeLength
	}
	if ep.EvalDuration > 0 {
		toLog[ep.Label+"/eval_duration"] = ep.EvalDuration
	}
	for k, v := range ep.Extra {
		toLog[ep.Label+"/"+k] = v
	}

	// Emit, then persist. Persistence must happen even when the sink is
	// down: the durable record outranks the dashboard.
	if l.sink != nil {
		for key := range toLog {
			l.sink.DefineMetric(key, sink.StepKeyEpisode)
		}
		payload := make(map[string]any, len(toLog)+1)
		for k, v := range toLog {
			payload[k] = v
		}
		payload[sink.StepKeyEpisode] = ep.Index
		if err := l.sink.Log(payload); err != nil {
			slog.Warn("Metrics sink rejected episode log", "episode", ep.Index, "error", err)
		}
	}

	if l.saver != nil {
		if _, err := l.saver.SaveEpisode(l.buildTrajData(ep)); err != nil {
			return nil, fmt.Errorf("persisting episode %d: %w", ep.Index, err)
		}
	}

	return toLog, nil
}

// buildTrajData assembles the durable record for one episode. Frames
// are stored PNG-encoded under the primary camera key.
func (l *EvalLogger) buildTrajData(ep Episode) datatypes.TrajData {
	var obs map[string][][]byte
	if len(ep.Frames) > 0 {
		encoded := make([][]byte, 0, len(ep.Frames))
		for _, frame := range ep.Frames {
			var buf bytes.Buffer
			if err := png.Encode(&buf, frame); err != nil {
				slog.Warn("Dropping unencodable frame from episode record",
					"episode", ep.Index, "error", err)
				continue
			}
			encoded = append(encoded, buf.Bytes())
		}
		obs = map[string][][]byte{"image_primary": encoded}
	}

	return datatypes.TrajData{
		EpisodeIndex:      ep.Index,
		LanguageCommand:   ep.Label,
		Success:           ep.Success,
		PartialSuccess:    ep.PartialSuccess,
		HasPartialSuccess: ep.HasPartialSuccess,
		Obs:               obs,
		Action:            ep.Action,
		Proprio:           ep.Proprio,
		Velocity:          ep.Velocity,
		Effort:            ep.Effort,
		EpisodeLength:     ep.EpisodeLength,
		EvalDuration:      ep.EvalDuration,
		LanguageFeedback:  ep.LanguageFeedback,
		Extra:             ep.Extra,
	}
}

// Stop tears the pipeline down: flush leftover frame windows and report
// them best-effort, stop the periodic reporter, then release storage
// and sink resources. Idempotent; later calls return the first result.
func (l *EvalLogger) Stop() error {
	l.stopOnce.Do(func() {
		l.flushRemainingFrames()
		l.reporter.Stop()

		var errs []error
		if l.saver != nil {
			if err := l.saver.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing saver: %w", err))
			}
		}
		if l.sink != nil {
			if err := l.sink.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing sink: %w", err))
			}
		}
		l.stopErr = errors.Join(errs...)
	})
	return l.stopErr
}

// flushRemainingFrames renders composites for windows that never hit
// the periodic threshold. Best effort: teardown continues on failure.
func (l *EvalLogger) flushRemainingFrames() {
	if l.viz == nil {
		return
	}

	artifacts, err := l.viz.LogRemainingFrames(l.currentEpisode, l.tracker.AllSeries())
	if err != nil {
		slog.Warn("Flushing remaining frame windows failed", "error", err)
		return
	}
	if len(artifacts) == 0 || l.sink == nil {
		return
	}

	payload := make(map[string]any, len(artifacts)+1)
	for key, artifact := range artifacts {
		payload[key] = artifact.Path
	}
	payload[sink.StepKeyEpisode] = l.currentEpisode
	if err := l.sink.Log(payload); err != nil {
		slog.Warn("Metrics sink rejected final frame artifacts", "error", err)
	}
}
