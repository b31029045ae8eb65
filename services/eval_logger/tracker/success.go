// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracker maintains per-task success statistics over an
// evaluation run.
//
// Each task label owns an append-only series of outcome flags. The
// series is never truncated: the "recent" rate windows over the last 20
// entries while the "overall" rate covers everything, and the frame
// visualizer reads the raw series to annotate its plots.
//
// The tracker is not safe for concurrent use. Only the coordinator
// calls it, serially, from the foreground evaluation loop.
package tracker

import "math"

// RecentWindow is the number of trailing episodes included in the
// recent success rate.
const RecentWindow = 20

// Stats summarizes a label's success series after one recorded episode.
type Stats struct {
	// EpisodeSuccess is the outcome of the episode just recorded, as a
	// float (1.0 success, 0.0 failure).
	EpisodeSuccess float64

	// CumulativeNumSuccess is the exact count of successes so far.
	// Unlike the rates it is not rounded.
	CumulativeNumSuccess float64

	// RecentSuccessRate is the mean of the last min(RecentWindow, n)
	// outcomes, rounded to 4 decimal places.
	RecentSuccessRate float64

	// OverallSuccessRate is the mean of all outcomes, rounded to 4
	// decimal places.
	OverallSuccessRate float64
}

// SuccessTracker records episode outcomes grouped by task label.
type SuccessTracker struct {
	// series maps task label to its insertion-ordered outcome flags.
	series map[string][]float64
}

// New creates an empty tracker.
func New() *SuccessTracker {
	return &SuccessTracker{series: make(map[string][]float64)}
}

// Record appends an episode outcome to the label's series and returns
// the updated statistics.
func (s *SuccessTracker) Record(label string, success bool) Stats {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	s.series[label] = append(s.series[label], outcome)

	series := s.series[label]
	recent := series
	if len(series) > RecentWindow {
		recent = series[len(series)-RecentWindow:]
	}

	return Stats{
		EpisodeSuccess:       outcome,
		CumulativeNumSuccess: sum(series),
		RecentSuccessRate:    round4(mean(recent)),
		OverallSuccessRate:   round4(mean(series)),
	}
}

// Series returns a copy of the label's outcome series, in insertion
// order. The copy keeps callers from aliasing the tracker's backing
// array.
func (s *SuccessTracker) Series(label string) []float64 {
	series := s.series[label]
	if series == nil {
		return nil
	}
	out := make([]float64, len(series))
	copy(out, series)
	return out
}

// AllSeries returns a copy of every label's outcome series. Used at
// shutdown to annotate the remaining frame-window flushes.
func (s *SuccessTracker) AllSeries() map[string][]float64 {
	out := make(map[string][]float64, len(s.series))
	for label := range s.series {
		out[label] = s.Series(label)
	}
	return out
}

// Count returns the number of episodes recorded under the label.
func (s *SuccessTracker) Count(label string) int {
	return len(s.series[label])
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

// round4 rounds to 4 decimal places, matching the precision the
// dashboard displays.
func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
