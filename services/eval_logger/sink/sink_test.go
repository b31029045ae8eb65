// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sink

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink_RecordsLogsInOrder(t *testing.T) {
	s := NewMemorySink()

	require.NoError(t, s.Log(map[string]any{"pick/episode_success": 1.0, "num_episode": 0}))
	require.NoError(t, s.Log(map[string]any{"pick/episode_success": 0.0, "num_episode": 1}))

	logs := s.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, 1.0, logs[0]["pick/episode_success"])
	assert.Equal(t, 0.0, logs[1]["pick/episode_success"])
}

func TestMemorySink_LogCopiesTheMap(t *testing.T) {
	s := NewMemorySink()

	values := map[string]any{"k": 1}
	require.NoError(t, s.Log(values))
	values["k"] = 2

	assert.Equal(t, 1, s.Logs()[0]["k"], "sink must not alias the caller's map")
}

func TestMemorySink_DefineMetricDeduplicates(t *testing.T) {
	s := NewMemorySink()

	s.DefineMetric("pick/*", StepKeyEpisode)
	s.DefineMetric("pick/*", StepKeyEpisode)
	s.DefineMetric("step_stats/*", StepKeyElapsed)

	axes := s.Axes()
	require.Len(t, axes, 2)
	assert.Equal(t, AxisDef{Pattern: "pick/*", StepKey: StepKeyEpisode}, axes[0])
	assert.Equal(t, StepKeyElapsed, s.AxisFor("step_stats/*"))
}

func TestMemorySink_FailWith(t *testing.T) {
	s := NewMemorySink()
	boom := errors.New("sink unavailable")
	s.FailWith = boom

	err := s.Log(map[string]any{"k": 1})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Logs())
}

func TestMemorySink_ConcurrentUse(t *testing.T) {
	s := NewMemorySink()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.Log(map[string]any{"goroutine": n, "j": j})
				s.DefineMetric("pick/*", StepKeyEpisode)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.Logs(), 400)
	assert.Len(t, s.Axes(), 1)
}

func TestNewInfluxSink_Defaults(t *testing.T) {
	t.Setenv("INFLUXDB_URL", "")
	t.Setenv("INFLUXDB_TOKEN", "")
	t.Setenv("INFLUXDB_ORG", "")
	t.Setenv("INFLUXDB_BUCKET", "")

	s, err := NewInfluxSink(InfluxConfig{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "robot-eval", s.bucket)
	assert.Equal(t, "aleutian-robotics", s.org)
	assert.Equal(t, "robot_eval", s.measurement)
}

func TestNewInfluxSink_EnvOverrides(t *testing.T) {
	t.Setenv("INFLUXDB_URL", "http://influx.internal:8086")
	t.Setenv("INFLUXDB_ORG", "lab")
	t.Setenv("INFLUXDB_BUCKET", "evals")

	s, err := NewInfluxSink(InfluxConfig{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "evals", s.bucket)
	assert.Equal(t, "lab", s.org)
}

// TestInfluxSink_WriteRoundTrip is an integration test that requires
// InfluxDB to be running.
func TestInfluxSink_WriteRoundTrip(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test - set RUN_INTEGRATION_TESTS=1 to run")
	}

	s, err := NewInfluxSink(InfluxConfig{
		Tags: map[string]string{"eval_id": "test-run", "robot_type": "franka"},
	})
	require.NoError(t, err)
	defer s.Close()

	s.DefineMetric("pick/*", StepKeyEpisode)
	err = s.Log(map[string]any{
		"pick/episode_success":     1.0,
		"pick/overall_success_rate": 0.75,
		"num_episode":              3,
	})
	require.NoError(t, err)
}
