// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package visualize turns per-episode camera frames into dashboard
// artifacts: an every-Nth-frame strip and a low-fps video for each
// episode, plus a periodic composite of initial/final frames over a
// sliding window of episodes with the matching success-rate curve.
//
// Artifacts are written as files under an artifact directory; callers
// receive the paths keyed the way they should appear on the metrics
// sink (for example "pick_up_the_fork/initial_and_final_frames").
package visualize

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/roboeval/pkg/validation"
)

// ErrWindowIncomplete reports a periodic flush attempted on a window
// that does not hold exactly SuccessVizEveryN entries. The window
// content and episode numbering would disagree, so nothing is rendered.
var ErrWindowIncomplete = errors.New("frame window incomplete at periodic flush")

// ArtifactKind distinguishes still images from video clips.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactVideo ArtifactKind = "video"
)

// Artifact is one rendered output, already written to disk.
type Artifact struct {
	Kind ArtifactKind
	Path string
}

// Config controls artifact geometry and cadence.
type Config struct {
	// VideoFPS is the playback rate of the per-episode preview video.
	VideoFPS int
	// VideoFrameWidth / VideoFrameHeight size every rendered frame.
	VideoFrameWidth  int
	VideoFrameHeight int
	// EpisodeVizFrameInterval is the stride of the per-episode strip:
	// every Nth frame plus the final frame.
	EpisodeVizFrameInterval int
	// SuccessVizEveryN is the window size W: the composite of
	// initial/final frames is emitted every W episodes per label.
	SuccessVizEveryN int
	// PeriodicInitialAndFinalFrames enables the windowed composite.
	PeriodicInitialAndFinalFrames bool
	// ArtifactDir receives the rendered files. Defaults to a temp dir.
	ArtifactDir string
}

// DefaultConfig mirrors the defaults used across our eval rigs.
func DefaultConfig() Config {
	return Config{
		VideoFPS:                      10,
		VideoFrameWidth:               128,
		VideoFrameHeight:              128,
		EpisodeVizFrameInterval:       10,
		SuccessVizEveryN:              10,
		PeriodicInitialAndFinalFrames: true,
	}
}

// framePair holds the first and last frame of one episode. A nil
// *framePair in the window marks an episode that logged no frames.
type framePair struct {
	first image.Image
	last  image.Image
}

// FrameVisualizer buffers the initial/final frames of recent episodes
// per task label and renders artifacts on the configured cadence.
//
// Not safe for concurrent use; it is driven by the single foreground
// evaluation loop.
type FrameVisualizer struct {
	cfg Config

	// windows holds per-label FIFO deques of at most SuccessVizEveryN
	// entries. Entries may be nil for frameless episodes.
	windows map[string][]*framePair
}

// NewFrameVisualizer applies defaults for zero-valued config fields and
// creates the artifact directory.
func NewFrameVisualizer(cfg Config) (*FrameVisualizer, error) {
	def := DefaultConfig()
	if cfg.VideoFPS <= 0 {
		cfg.VideoFPS = def.VideoFPS
	}
	if cfg.VideoFrameWidth <= 0 {
		cfg.VideoFrameWidth = def.VideoFrameWidth
	}
	if cfg.VideoFrameHeight <= 0 {
		cfg.VideoFrameHeight = def.VideoFrameHeight
	}
	if cfg.EpisodeVizFrameInterval <= 0 {
		cfg.EpisodeVizFrameInterval = def.EpisodeVizFrameInterval
	}
	if cfg.SuccessVizEveryN <= 0 {
		cfg.SuccessVizEveryN = def.SuccessVizEveryN
	}
	if cfg.ArtifactDir == "" {
		dir, err := os.MkdirTemp("", "roboeval_viz_")
		if err != nil {
			return nil, fmt.Errorf("creating artifact dir: %w", err)
		}
		cfg.ArtifactDir = dir
	} else if err := os.MkdirAll(cfg.ArtifactDir, 0750); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}

	return &FrameVisualizer{
		cfg:     cfg,
		windows: make(map[string][]*framePair),
	}, nil
}

// WindowLen returns the current number of buffered episodes for a label.
func (v *FrameVisualizer) WindowLen(label string) int {
	return len(v.windows[label])
}

// LogFrames records one episode's frames and returns the artifacts due
// at this step.
//
// A nil frames slice opts the episode out of visualization entirely. An
// empty (non-nil) slice buffers a frameless marker so window positions
// stay aligned with episode numbering. With frames present, the
// per-episode strip and preview video are always emitted; the windowed
// composite additionally appears when (step+1) is a multiple of
// SuccessVizEveryN, after which the label's window is cleared.
//
// successRates is the label's full success series; the composite plots
// its tail matched to the buffered episodes.
func (v *FrameVisualizer) LogFrames(step int, label string, frames []image.Image, successRates []float64) (map[string]Artifact, error) {
	if frames == nil {
		return map[string]Artifact{}, nil
	}

	var pair *framePair
	if len(frames) > 0 {
		pair = &framePair{first: frames[0], last: frames[len(frames)-1]}
	}
	v.push(label, pair)

	out := make(map[string]Artifact)

	if len(frames) > 0 {
		strip, err := v.renderEpisodeStrip(frames)
		if err != nil {
			return nil, err
		}
		stripPath, err := v.writeArtifact(label, fmt.Sprintf("ep%d_frames.png", step), strip)
		if err != nil {
			return nil, err
		}
		out[label+"/frames"] = Artifact{Kind: ArtifactImage, Path: stripPath}

		video, err := v.renderEpisodeVideo(frames)
		if err != nil {
			return nil, err
		}
		videoPath, err := v.writeArtifact(label, fmt.Sprintf("ep%d_video.gif", step), video)
		if err != nil {
			return nil, err
		}
		out[label+"/video"] = Artifact{Kind: ArtifactVideo, Path: videoPath}
	}

	if (step+1)%v.cfg.SuccessVizEveryN == 0 && v.cfg.PeriodicInitialAndFinalFrames {
		if got := len(v.windows[label]); got != v.cfg.SuccessVizEveryN {
			return nil, fmt.Errorf("%w: label %q has %d of %d episodes at step %d",
				ErrWindowIncomplete, label, got, v.cfg.SuccessVizEveryN, step)
		}

		composite, err := v.renderWindowComposite(v.windows[label], successRates)
		if err != nil {
			return nil, err
		}
		if composite != nil {
			path, err := v.writeArtifact(label, fmt.Sprintf("window_%d.png", step), composite)
			if err != nil {
				return nil, err
			}
			out[label+"/initial_and_final_frames"] = Artifact{Kind: ArtifactImage, Path: path}
		}
		v.windows[label] = nil
	}

	return out, nil
}

// LogRemainingFrames renders a final composite for every label whose
// window still holds frames, then clears all windows. Called once at
// teardown so partial windows are not lost.
//
// successRates maps label to its success series; labels without an
// entry plot zeros.
func (v *FrameVisualizer) LogRemainingFrames(finalStep int, successRates map[string][]float64) (map[string]Artifact, error) {
	out := make(map[string]Artifact)

	for label, window := range v.windows {
		if len(window) == 0 {
			continue
		}

		rates := successRates[label]
		if rates == nil {
			rates = make([]float64, len(window))
		}

		composite, err := v.renderWindowComposite(window, rates)
		if err != nil {
			return nil, err
		}
		if composite == nil {
			continue
		}

		path, err := v.writeArtifact(label, fmt.Sprintf("window_final_%d.png", finalStep), composite)
		if err != nil {
			return nil, err
		}
		out[label+"/initial_and_final_frames"] = Artifact{Kind: ArtifactImage, Path: path}
	}

	v.windows = make(map[string][]*framePair)
	return out, nil
}

// push appends to a label's window, evicting the oldest entry when full.
func (v *FrameVisualizer) push(label string, pair *framePair) {
	window := v.windows[label]
	window = append(window, pair)
	if len(window) > v.cfg.SuccessVizEveryN {
		window = window[1:]
	}
	v.windows[label] = window
}

// renderEpisodeStrip concatenates every Nth frame plus the final frame.
func (v *FrameVisualizer) renderEpisodeStrip(frames []image.Image) ([]byte, error) {
	var picked []*image.RGBA
	for i := 0; i < len(frames); i += v.cfg.EpisodeVizFrameInterval {
		picked = append(picked, v.resize(frames[i]))
	}
	picked = append(picked, v.resize(frames[len(frames)-1]))
	return encodePNG(hconcat(picked))
}

// renderEpisodeVideo packs all frames into a low-fps preview GIF.
func (v *FrameVisualizer) renderEpisodeVideo(frames []image.Image) ([]byte, error) {
	resized := make([]*image.RGBA, len(frames))
	for i, f := range frames {
		resized[i] = v.resize(f)
	}
	return encodeGIF(resized, v.cfg.VideoFPS)
}

// renderWindowComposite stacks initial-over-final frame columns for the
// buffered episodes and appends the success-rate plot underneath.
// Returns nil bytes when every buffered episode was frameless.
func (v *FrameVisualizer) renderWindowComposite(window []*framePair, successRates []float64) ([]byte, error) {
	var columns []*image.RGBA
	n := 0
	for _, pair := range window {
		if pair == nil {
			continue
		}
		columns = append(columns, vconcat([]*image.RGBA{v.resize(pair.first), v.resize(pair.last)}))
		n++
	}
	if n == 0 {
		slog.Debug("Skipping window composite, no episodes in window carried frames")
		return nil, nil
	}

	top := hconcat(columns)

	rates := successRates
	if len(rates) > n {
		rates = rates[len(rates)-n:]
	}
	plot := plotSuccessRates(rates, top.Bounds().Dx(), 120)

	return encodePNG(vconcat([]*image.RGBA{top, plot}))
}

func (v *FrameVisualizer) resize(img image.Image) *image.RGBA {
	return resizeImage(img, v.cfg.VideoFrameWidth, v.cfg.VideoFrameHeight)
}

// writeArtifact persists rendered bytes under the artifact dir, using
// the path-safe form of the label as filename prefix.
func (v *FrameVisualizer) writeArtifact(label, name string, data []byte) (string, error) {
	path := filepath.Join(v.cfg.ArtifactDir, validation.SanitizeLabelForPath(label)+"_"+name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", path, err)
	}
	return path, nil
}
