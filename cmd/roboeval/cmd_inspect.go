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
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/roboeval/services/eval_logger/datatypes"
	"github.com/AleutianAI/roboeval/services/eval_logger/storage"
)

func runInspect(cmd *cobra.Command, args []string) {
	runDir := args[0]

	metadata, err := datatypes.LoadMetadata(filepath.Join(runDir, storage.MetadataFileName))
	if err != nil {
		fatal("Cannot read run metadata", "run_dir", runDir, "error", err)
	}

	fmt.Printf("Eval ID:        %s\n", metadata.EvalID)
	fmt.Printf("Robot:          %s (%s)\n", metadata.RobotName, metadata.RobotType)
	fmt.Printf("Location:       %s\n", metadata.Location)
	fmt.Printf("Evaluator:      %s\n", metadata.EvaluatorName)
	fmt.Printf("Time:           %s\n", metadata.Time)
	if metadata.EvalName != "" {
		fmt.Printf("Eval name:      %s\n", metadata.EvalName)
	}

	paths, err := filepath.Glob(filepath.Join(runDir, "traj_*.gob"))
	if err != nil {
		fatal("Cannot list trajectory files", "run_dir", runDir, "error", err)
	}

	episodes := make([]datatypes.TrajData, 0, len(paths))
	for _, path := range paths {
		traj, err := datatypes.LoadTrajData(path)
		if err != nil {
			fatal("Cannot read trajectory file", "path", path, "error", err)
		}
		episodes = append(episodes, traj)
	}
	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].EpisodeIndex < episodes[j].EpisodeIndex
	})

	fmt.Printf("\nEpisodes: %d\n", len(episodes))
	if len(episodes) == 0 {
		return
	}

	fmt.Printf("%-8s %-40s %-8s %-8s %-10s %-8s\n",
		"EPISODE", "TASK", "SUCCESS", "STEPS", "DURATION", "FRAMES")
	successes := 0
	for _, ep := range episodes {
		frames := 0
		for _, cam := range ep.Obs {
			frames += len(cam)
		}
		fmt.Printf("%-8d %-40s %-8t %-8d %-10.1f %-8d\n",
			ep.EpisodeIndex, ep.LanguageCommand, ep.Success,
			ep.EpisodeLength, ep.EvalDuration, frames)
		if ep.Success {
			successes++
		}
	}
	fmt.Printf("\nOverall: %d/%d succeeded (%.1f%%)\n",
		successes, len(episodes), 100*float64(successes)/float64(len(episodes)))
}
