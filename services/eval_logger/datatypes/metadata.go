// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the eval_logger service.
//
// This file contains the per-run metadata types: the robot taxonomy, the
// content-derived run identifier, and the Metadata record written exactly
// once per evaluation run. For per-episode trajectory data, see
// trajectory.go.
package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Robot Taxonomy
// =============================================================================

// RobotType identifies the robot platform under evaluation.
type RobotType string

const (
	// RobotTypeFranka is the Franka Emika Panda arm.
	RobotTypeFranka RobotType = "franka"

	// RobotTypeWidowX is the Trossen WidowX arm.
	RobotTypeWidowX RobotType = "widowx"
)

// ParseRobotType converts a string into a RobotType.
// Unknown platforms are a configuration error, not a warning: run
// metadata is immutable, so a typo here would be baked into the run
// directory forever.
func ParseRobotType(s string) (RobotType, error) {
	switch RobotType(s) {
	case RobotTypeFranka, RobotTypeWidowX:
		return RobotType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRobotType, s)
}

// =============================================================================
// Run Identifier
// =============================================================================

// EvalID is the content-derived identifier for one evaluation run.
//
// The ID is a stable hash of the run's creation timestamp, robot type,
// and optional custom name, so re-deriving it from the same inputs
// always yields the same directory name locally and remotely.
type EvalID string

// NewEvalID derives the run identifier from its content.
func NewEvalID(ts time.Time, robotType RobotType, customName string) EvalID {
	input := ts.Format(time.RFC3339Nano) + string(robotType) + customName
	sum := sha256.Sum256([]byte(input))
	return EvalID(hex.EncodeToString(sum[:8]))
}

// String returns the identifier as a plain string.
func (id EvalID) String() string { return string(id) }

// =============================================================================
// Run Metadata
// =============================================================================

// metadataValidate is the validator instance for run metadata.
var metadataValidate = validator.New()

// Metadata describes one evaluation run. It is created once per process
// at save-metadata time and is immutable after the first write; the
// storage layer rejects a second write for the same run.
//
// Serialized as `metadata.json` inside the run directory:
//
//	{
//	  "eval_id": "9f2c4e1a8b3d5f07",
//	  "location": "RAIL lab, station 2",
//	  "robot_name": "franka-02",
//	  "robot_type": "franka",
//	  "time": "2025-06-14T10:32:07-07:00",
//	  "evaluator_name": "paul",
//	  "eval_name": "drawer-sweep"
//	}
type Metadata struct {
	EvalID        EvalID    `json:"eval_id" validate:"required"`
	Location      string    `json:"location" validate:"required"`
	RobotName     string    `json:"robot_name" validate:"required"`
	RobotType     RobotType `json:"robot_type" validate:"required,oneof=franka widowx"`
	Time          string    `json:"time" validate:"required"`
	EvaluatorName string    `json:"evaluator_name" validate:"required"`
	EvalName      string    `json:"eval_name,omitempty"`
}

// NewMetadata assembles a Metadata record, deriving the EvalID and
// recording the creation time in ISO-8601 form.
func NewMetadata(location, robotName string, robotType RobotType, evaluatorName, evalName string) Metadata {
	now := time.Now()
	return Metadata{
		EvalID:        NewEvalID(now, robotType, evalName),
		Location:      location,
		RobotName:     robotName,
		RobotType:     robotType,
		Time:          now.Format(time.RFC3339),
		EvaluatorName: evaluatorName,
		EvalName:      evalName,
	}
}

// Validate checks required fields and the robot type enum.
func (m Metadata) Validate() error {
	if err := metadataValidate.Struct(m); err != nil {
		return fmt.Errorf("invalid run metadata: %w", err)
	}
	return nil
}

// Save writes the metadata to a JSON file.
//
// The flags make the write exclusive: an existing file fails with
// ErrMetadataExists so the first write is never clobbered.
func (m Metadata) Save(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrMetadataExists, path)
		}
		return fmt.Errorf("create metadata file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return nil
}

// LoadMetadata reads a Metadata record back from a JSON file.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata file: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata file %s: %w", path, err)
	}
	return m, nil
}

// CreatedAt parses the stored ISO-8601 timestamp.
func (m Metadata) CreatedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, m.Time)
}
