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

import "errors"

var (
	// ErrUnknownRobotType is returned when a robot type string does not
	// match any supported platform.
	ErrUnknownRobotType = errors.New("unknown robot type")

	// ErrMetadataExists is returned when run metadata already exists at
	// the target path. Metadata is write-once; the first write stays
	// intact.
	ErrMetadataExists = errors.New("run metadata already exists")

	// ErrPartialSuccessRange is returned when a partial success value
	// falls outside [0, 1].
	ErrPartialSuccessRange = errors.New("partial success must be in [0, 1]")
)
