// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validScenario = `
robot_type: franka
robot_name: franka-02
location: RAIL lab
evaluator_name: paul
eval_name: drawer-sweep
labels:
  - pick up the fork
  - open the drawer
episodes_per_label: 4
steps_per_episode: 10
frames_per_episode: 6
sim_success_rate: 0.5
seed: 7
storage_dir: /tmp/eval_data
step_stats_interval: 30s
visualization:
  success_viz_every_n: 2
`

func TestLoadScenario_Valid(t *testing.T) {
	s, err := loadScenario(writeScenario(t, validScenario))
	require.NoError(t, err)

	assert.Equal(t, "franka", s.RobotType)
	assert.Len(t, s.Labels, 2)
	assert.Equal(t, 4, s.EpisodesPerLabel)

	interval, err := s.stepStatsInterval()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, interval)
}

func TestLoadScenario_UnknownRobotType(t *testing.T) {
	bad := `
robot_type: ur5
robot_name: arm
location: lab
evaluator_name: sam
labels: [task]
episodes_per_label: 2
steps_per_episode: 5
storage_dir: /tmp/eval_data
visualization:
  success_viz_every_n: 2
`
	_, err := loadScenario(writeScenario(t, bad))
	require.Error(t, err)
}

func TestLoadScenario_RejectsBadLabel(t *testing.T) {
	bad := `
robot_type: widowx
robot_name: arm
location: lab
evaluator_name: sam
labels: ["../escape"]
episodes_per_label: 2
steps_per_episode: 5
storage_dir: /tmp/eval_data
visualization:
  success_viz_every_n: 2
`
	_, err := loadScenario(writeScenario(t, bad))
	require.Error(t, err)
}

func TestLoadScenario_WindowMustDivideEpisodes(t *testing.T) {
	bad := `
robot_type: franka
robot_name: arm
location: lab
evaluator_name: sam
labels: [task]
episodes_per_label: 5
steps_per_episode: 5
storage_dir: /tmp/eval_data
visualization:
  success_viz_every_n: 3
`
	_, err := loadScenario(writeScenario(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple")

	// Disabling visualization lifts the alignment requirement.
	ok := bad + "  disabled: true\n"
	// yaml: disabled belongs to the visualization block above
	_, err = loadScenario(writeScenario(t, ok))
	require.NoError(t, err)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := loadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestSyntheticFrames(t *testing.T) {
	assert.Nil(t, syntheticFrames(0, 3))

	frames := syntheticFrames(5, 1)
	require.Len(t, frames, 5)
	assert.Equal(t, 64, frames[0].Bounds().Dx())
	assert.Equal(t, 48, frames[0].Bounds().Dy())
}

func TestStepStatsInterval_Invalid(t *testing.T) {
	s := &Scenario{StepStatsInterval: "soon"}
	_, err := s.stepStatsInterval()
	require.Error(t, err)

	s = &Scenario{}
	d, err := s.stepStatsInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)
}
