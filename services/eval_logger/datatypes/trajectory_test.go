// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrajData_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traj_7.gob")

	original := TrajData{
		EpisodeIndex:      7,
		LanguageCommand:   "pick up the fork",
		Success:           true,
		PartialSuccess:    0.8,
		HasPartialSuccess: true,
		Obs: map[string][][]byte{
			"image_primary": {{0x89, 0x50, 0x4e, 0x47}, {0x89, 0x50, 0x4e, 0x47, 0x0d}},
		},
		Action:           [][]float64{{0.1, 0.2, -0.3}, {0.4, 0.5, 0.6}},
		Proprio:          [][]float64{{1.0, 2.0}, {3.0, 4.0}},
		Velocity:         [][]float64{{0.01, 0.02}},
		Effort:           [][]float64{{9.5}},
		EpisodeLength:    2,
		EvalDuration:     5.25,
		LanguageFeedback: "smooth grasp",
		Extra: map[string]any{
			"gripper_open_fraction": []float64{0.0, 0.25, 1.0},
			"retries":               3,
			"operator_note":         "second attempt",
			"per_joint_torque":      [][]float64{{0.1, 0.2}, {0.3, 0.4}},
		},
	}
	require.NoError(t, original.Validate())
	require.NoError(t, original.Save(path))

	loaded, err := LoadTrajData(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded, "round trip must be field-for-field equal")
}

func TestTrajData_RoundTripPreservesFloatPrecision(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traj_0.gob")

	// Values chosen to expose any lossy text encoding.
	values := []float64{
		math.Pi,
		math.SmallestNonzeroFloat64,
		math.MaxFloat64,
		-0.1234567890123456789,
		1e-300,
	}
	original := TrajData{
		EpisodeIndex:    0,
		LanguageCommand: "precision check",
		Action:          [][]float64{values},
	}
	require.NoError(t, original.Save(path))

	loaded, err := LoadTrajData(path)
	require.NoError(t, err)
	require.Len(t, loaded.Action, 1)
	for i, v := range values {
		assert.Equal(t, v, loaded.Action[0][i], "bit-exact float round trip at index %d", i)
	}
}

func TestTrajData_RoundTripWithoutOptionals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traj_1.gob")

	original := TrajData{
		EpisodeIndex:    1,
		LanguageCommand: "close the drawer",
		Success:         false,
	}
	require.NoError(t, original.Save(path))

	loaded, err := LoadTrajData(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
	assert.False(t, loaded.HasPartialSuccess)
	assert.Nil(t, loaded.Action)
	assert.Nil(t, loaded.Obs)
}

func TestTrajData_Validate(t *testing.T) {
	tests := []struct {
		name    string
		traj    TrajData
		wantErr bool
	}{
		{
			name: "valid minimal",
			traj: TrajData{EpisodeIndex: 0, LanguageCommand: "pick"},
		},
		{
			name:    "negative episode index",
			traj:    TrajData{EpisodeIndex: -1, LanguageCommand: "pick"},
			wantErr: true,
		},
		{
			name:    "missing label",
			traj:    TrajData{EpisodeIndex: 0},
			wantErr: true,
		},
		{
			name:    "partial success above range",
			traj:    TrajData{EpisodeIndex: 0, LanguageCommand: "pick", PartialSuccess: 1.5, HasPartialSuccess: true},
			wantErr: true,
		},
		{
			name:    "partial success below range",
			traj:    TrajData{EpisodeIndex: 0, LanguageCommand: "pick", PartialSuccess: -0.5, HasPartialSuccess: true},
			wantErr: true,
		},
		{
			name: "partial success boundary ok",
			traj: TrajData{EpisodeIndex: 0, LanguageCommand: "pick", PartialSuccess: 1.0, HasPartialSuccess: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.traj.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
