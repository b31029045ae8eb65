// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// file paths, metric keys, or remote object names. Using these validators
// prevents path traversal and malformed metric keys from free-form task
// labels and evaluation names.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxLabelLength bounds task labels and eval names. Labels double as metric
// key prefixes and as path components in the remote mirror, so they are kept
// short enough for both.
const MaxLabelLength = 128

// labelPattern matches valid task labels and eval names.
// Allows: letters, digits, spaces, and the separators _ - . ,
// Disallows: path separators, leading/trailing whitespace (checked separately).
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.,\-]*$`)

// ValidateLabel validates a task label or evaluation name.
//
// Labels group episodes for statistics and visualization, prefix every
// metric key pushed to the sink, and appear as path components in the
// durable store and remote mirror. A label must therefore:
//   - be non-empty and at most MaxLabelLength bytes
//   - start with an alphanumeric character
//   - contain only alphanumerics, spaces, and _ - . ,
//   - never contain path separators or ".."
//
// Example:
//
//	if err := validation.ValidateLabel(label); err != nil {
//	    return nil, fmt.Errorf("invalid task label: %w", err)
//	}
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("label too long: %d bytes (max %d)", len(label), MaxLabelLength)
	}
	if strings.Contains(label, "..") {
		return fmt.Errorf("label must not contain %q: %q", "..", label)
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid label format: %q (alphanumerics, spaces, and _-., only)", label)
	}
	if strings.TrimSpace(label) != label {
		return fmt.Errorf("label must not have leading or trailing whitespace: %q", label)
	}
	return nil
}

// ValidateLabels validates multiple labels.
// Returns an error listing all invalid labels if any fail validation.
func ValidateLabels(labels []string) error {
	var invalid []string
	for _, l := range labels {
		if err := ValidateLabel(l); err != nil {
			invalid = append(invalid, l)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid labels: %v", invalid)
	}
	return nil
}

// SanitizeLabelForPath converts a validated label into a form safe to embed
// in file names (spaces and commas become underscores). The metric key form
// keeps the original label; only the on-disk form is rewritten.
func SanitizeLabelForPath(label string) string {
	replacer := strings.NewReplacer(" ", "_", ",", "_")
	return replacer.Replace(label)
}
