// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/roboeval/pkg/validation"
	evallogger "github.com/AleutianAI/roboeval/services/eval_logger"
	"github.com/AleutianAI/roboeval/services/eval_logger/datatypes"
	"github.com/AleutianAI/roboeval/services/eval_logger/sink"
	"github.com/AleutianAI/roboeval/services/eval_logger/storage"
	"github.com/AleutianAI/roboeval/services/eval_logger/visualize"
)

// Scenario is the YAML description of one simulated evaluation run.
type Scenario struct {
	RobotType     string `yaml:"robot_type" validate:"required,oneof=franka widowx"`
	RobotName     string `yaml:"robot_name" validate:"required"`
	Location      string `yaml:"location" validate:"required"`
	EvaluatorName string `yaml:"evaluator_name" validate:"required"`
	EvalName      string `yaml:"eval_name"`

	Labels           []string `yaml:"labels" validate:"required,min=1"`
	EpisodesPerLabel int      `yaml:"episodes_per_label" validate:"required,min=1"`
	StepsPerEpisode  int      `yaml:"steps_per_episode" validate:"required,min=1"`
	FramesPerEpisode int      `yaml:"frames_per_episode" validate:"min=0"`

	// SimSuccessRate is the probability a simulated episode succeeds.
	SimSuccessRate float64 `yaml:"sim_success_rate" validate:"min=0,max=1"`
	// Seed makes a run reproducible; 0 seeds from the clock.
	Seed int64 `yaml:"seed"`

	StorageDir string `yaml:"storage_dir" validate:"required"`

	// StepStatsInterval is a Go duration string ("30s", "2m"); empty
	// disables the periodic throughput reporter.
	StepStatsInterval string `yaml:"step_stats_interval"`

	Influx struct {
		Enabled     bool   `yaml:"enabled"`
		Measurement string `yaml:"measurement"`
	} `yaml:"influx"`

	Mirror struct {
		GCSBucket    string `yaml:"gcs_bucket"`
		SAKeyPath    string `yaml:"sa_key_path"`
		RemotePrefix string `yaml:"remote_prefix"`
	} `yaml:"mirror"`

	Visualization struct {
		Disabled                bool   `yaml:"disabled"`
		SuccessVizEveryN        int    `yaml:"success_viz_every_n"`
		EpisodeVizFrameInterval int    `yaml:"episode_viz_frame_interval"`
		VideoFPS                int    `yaml:"video_fps"`
		ArtifactDir             string `yaml:"artifact_dir"`
	} `yaml:"visualization"`
}

var scenarioValidate = validator.New()

// loadScenario parses and validates the YAML scenario file.
func loadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := scenarioValidate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := validation.ValidateLabels(s.Labels); err != nil {
		return nil, fmt.Errorf("invalid scenario labels: %w", err)
	}

	// The windowed composite requires full windows; with labels run as
	// contiguous blocks that means the window must divide the block.
	if !s.Visualization.Disabled {
		w := s.Visualization.SuccessVizEveryN
		if w == 0 {
			w = visualize.DefaultConfig().SuccessVizEveryN
		}
		if s.EpisodesPerLabel%w != 0 {
			return nil, fmt.Errorf(
				"episodes_per_label (%d) must be a multiple of visualization.success_viz_every_n (%d)",
				s.EpisodesPerLabel, w)
		}
	}

	return &s, nil
}

// stepStatsInterval parses the reporter interval, 0 when unset.
func (s *Scenario) stepStatsInterval() (time.Duration, error) {
	if s.StepStatsInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.StepStatsInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid step_stats_interval %q: %w", s.StepStatsInterval, err)
	}
	return d, nil
}

func runEval(cmd *cobra.Command, args []string) {
	scenario, err := loadScenario(scenarioPath)
	if err != nil {
		fatal("Scenario rejected", "error", err)
	}
	robotType, err := datatypes.ParseRobotType(scenario.RobotType)
	if err != nil {
		fatal("Scenario rejected", "error", err)
	}
	interval, err := scenario.stepStatsInterval()
	if err != nil {
		fatal("Scenario rejected", "error", err)
	}

	// Metrics sink.
	var metricsSink sink.Sink
	switch {
	case dryRun || !scenario.Influx.Enabled:
		slog.Info("Using in-memory metrics sink")
		metricsSink = sink.NewMemorySink()
	default:
		influx, err := sink.NewInfluxSink(sink.InfluxConfig{Measurement: scenario.Influx.Measurement})
		if err != nil {
			fatal("Cannot connect metrics sink", "error", err)
		}
		metricsSink = influx
	}

	// Durable storage, optionally mirrored to GCS.
	local, err := storage.NewLocalStorage(scenario.StorageDir)
	if err != nil {
		fatal("Cannot open local storage", "error", err)
	}
	var saver storage.Saver = local
	if scenario.Mirror.GCSBucket != "" && !dryRun {
		gcs, err := storage.NewGCSMirror(context.Background(), scenario.Mirror.GCSBucket, scenario.Mirror.SAKeyPath)
		if err != nil {
			fatal("Cannot connect GCS mirror", "error", err)
		}
		mirrored, err := storage.NewMirroredStorage(local, gcs, storage.MirrorConfig{
			RemotePrefix: scenario.Mirror.RemotePrefix,
		})
		if err != nil {
			fatal("Cannot configure mirrored storage", "error", err)
		}
		saver = mirrored
	}

	// Frame visualizer.
	var viz *visualize.FrameVisualizer
	if !scenario.Visualization.Disabled {
		viz, err = visualize.NewFrameVisualizer(visualize.Config{
			SuccessVizEveryN:              scenario.Visualization.SuccessVizEveryN,
			EpisodeVizFrameInterval:       scenario.Visualization.EpisodeVizFrameInterval,
			VideoFPS:                      scenario.Visualization.VideoFPS,
			ArtifactDir:                   scenario.Visualization.ArtifactDir,
			PeriodicInitialAndFinalFrames: true,
		})
		if err != nil {
			fatal("Cannot configure visualizer", "error", err)
		}
	}

	opts := []evallogger.Option{
		evallogger.WithSink(metricsSink),
		evallogger.WithSaver(saver),
		evallogger.WithStepStatsInterval(interval),
	}
	if viz != nil {
		opts = append(opts, evallogger.WithVisualizer(viz))
	}
	logger := evallogger.New(opts...)
	defer logger.Stop()

	if _, err := logger.SaveMetadata(
		scenario.Location, scenario.RobotName, robotType,
		scenario.EvaluatorName, scenario.EvalName,
	); err != nil {
		fatal("Cannot save run metadata", "error", err)
	}
	slog.Info("Evaluation run started",
		"eval_id", local.EvalID(),
		"labels", len(scenario.Labels),
		"episodes_per_label", scenario.EpisodesPerLabel)

	seed := scenario.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// Simulated rollouts: each label runs as a contiguous block of
	// episodes under one global episode counter.
	finalStats := make(map[string]map[string]any, len(scenario.Labels))
	episode := 0
	for _, label := range scenario.Labels {
		for i := 0; i < scenario.EpisodesPerLabel; i++ {
			start := time.Now()
			for step := 0; step < scenario.StepsPerEpisode; step++ {
				logger.LogStep()
			}
			success := rng.Float64() < scenario.SimSuccessRate

			out, err := logger.LogEpisode(evallogger.Episode{
				Index:         episode,
				Label:         label,
				Success:       success,
				Frames:        syntheticFrames(scenario.FramesPerEpisode, episode),
				EpisodeLength: scenario.StepsPerEpisode,
				EvalDuration:  time.Since(start).Seconds(),
			})
			if err != nil {
				fatal("Episode logging failed", "episode", episode, "error", err)
			}
			finalStats[label] = out
			episode++
		}
	}

	if err := logger.Stop(); err != nil {
		fatal("Teardown failed", "error", err)
	}

	printSummary(scenario, local, logger.TotalSteps(), finalStats)
}

// syntheticFrames renders simple gradient frames so the visualization
// and persistence paths have real pixel data to chew on. Returns nil
// when the scenario asks for no frames.
func syntheticFrames(n, episode int) []image.Image {
	if n <= 0 {
		return nil
	}
	frames := make([]image.Image, n)
	for f := 0; f < n; f++ {
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		for y := 0; y < 48; y++ {
			for x := 0; x < 64; x++ {
				img.SetRGBA(x, y, color.RGBA{
					R: uint8(x * 4),
					G: uint8(y*5 + f*10),
					B: uint8(episode * 16),
					A: 255,
				})
			}
		}
		frames[f] = img
	}
	return frames
}

// printSummary writes the final per-label success table to stdout.
func printSummary(scenario *Scenario, local *storage.LocalStorage, totalSteps int, finalStats map[string]map[string]any) {
	fmt.Printf("\nEvaluation complete: eval_id=%s\n", local.EvalID())
	fmt.Printf("Run directory: %s\n", local.RunDir())
	fmt.Printf("Total steps: %d\n\n", totalSteps)

	fmt.Printf("%-40s %10s %10s %10s\n", "TASK", "SUCCESSES", "RECENT", "OVERALL")
	for _, label := range scenario.Labels {
		stats := finalStats[label]
		if stats == nil {
			continue
		}
		fmt.Printf("%-40s %10v %10v %10v\n",
			label,
			stats[label+"/cumulative_num_success"],
			stats[label+"/recent_success_rate"],
			stats[label+"/overall_success_rate"])
	}
}
