// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/gob"
	"fmt"
	"os"
)

func init() {
	// Extra is an open map; gob needs the concrete value types that can
	// appear in it registered up front.
	gob.Register(float64(0))
	gob.Register(int(0))
	gob.Register(false)
	gob.Register("")
	gob.Register([]float64(nil))
	gob.Register([][]float64(nil))
	gob.Register([]string(nil))
	gob.Register(map[string]float64(nil))
}

// TrajData is the durable record of one completed evaluation episode.
//
// The named fields cover the trajectory data every episode can carry;
// Extra holds free-form caller-supplied fields serialized alongside
// them. A TrajData is owned by the storage layer after creation and is
// immutable once written.
//
// Scalar optionals use a paired Has flag instead of pointers so the gob
// encoding stays flat and round-trips exactly.
type TrajData struct {
	// EpisodeIndex keys the record within the run directory.
	EpisodeIndex int

	// LanguageCommand is the task label: the instruction given to the
	// evaluated policy. It doubles as the stats/visualization grouping
	// key.
	LanguageCommand string

	// Success is the binary episode outcome.
	Success bool

	// PartialSuccess is optional graded credit in [0, 1].
	PartialSuccess    float64
	HasPartialSuccess bool

	// Obs maps camera names to per-step PNG-encoded frames.
	Obs map[string][][]byte

	// Per-step numeric sequences. Nil when the caller did not supply
	// them.
	Action   [][]float64
	Proprio  [][]float64
	Velocity [][]float64
	Effort   [][]float64

	// EpisodeLength is the number of steps (0 when unreported).
	EpisodeLength int

	// EvalDuration is the wall-clock episode duration in seconds
	// (0 when unreported).
	EvalDuration float64

	// LanguageFeedback is optional free-form operator feedback.
	LanguageFeedback string

	// Extra holds arbitrary additional fields. Values must be one of
	// the gob-registered types: float64, int, bool, string, []float64,
	// [][]float64, []string, map[string]float64.
	Extra map[string]any
}

// Validate checks the fields with constrained domains.
func (t TrajData) Validate() error {
	if t.EpisodeIndex < 0 {
		return fmt.Errorf("episode index must be non-negative, got %d", t.EpisodeIndex)
	}
	if t.LanguageCommand == "" {
		return fmt.Errorf("language command (task label) is required")
	}
	if t.HasPartialSuccess && (t.PartialSuccess < 0 || t.PartialSuccess > 1) {
		return fmt.Errorf("%w: %v", ErrPartialSuccessRange, t.PartialSuccess)
	}
	return nil
}

// Save writes the trajectory record to a binary file.
//
// The gob encoding round-trips all fields losslessly, including the
// float64 sequences, which is why the trajectory snapshot is binary
// rather than JSON.
func (t TrajData) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trajectory file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(t); err != nil {
		return fmt.Errorf("encode trajectory %d: %w", t.EpisodeIndex, err)
	}
	return nil
}

// LoadTrajData reads a trajectory record back from a binary file.
func LoadTrajData(path string) (TrajData, error) {
	file, err := os.Open(path)
	if err != nil {
		return TrajData{}, fmt.Errorf("open trajectory file: %w", err)
	}
	defer file.Close()

	var t TrajData
	if err := gob.NewDecoder(file).Decode(&t); err != nil {
		return TrajData{}, fmt.Errorf("decode trajectory file %s: %w", path, err)
	}
	return t, nil
}
