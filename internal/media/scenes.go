package media

import (
	"context"
	"fmt"
	"log/slog"
)

// SceneDetectorConfig tunes adaptive scene detection. The detector runs
// once at Threshold; if the result is outside [MinScenes, MaxScenes] it
// retries once at LowThreshold (too few scenes) or HighThreshold (too
// many). At most one retry fires per direction, so a pathological video
// runs detection at most three times.
type SceneDetectorConfig struct {
	Threshold     float64
	LowThreshold  float64
	HighThreshold float64
	MinScenes     int
	MaxScenes     int
}

type SceneDetector struct {
	ffmpeg FFmpeg
	cfg    SceneDetectorConfig
	logger *slog.Logger
}

func NewSceneDetector(ffmpeg FFmpeg, cfg SceneDetectorConfig, logger *slog.Logger) *SceneDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SceneDetector{ffmpeg: ffmpeg, cfg: cfg, logger: logger}
}

// Detect splits the video into scenes. Boundary timestamps come from
// ffmpeg's frame-difference score; a video with no detected boundaries
// yields a single scene spanning the whole duration, so the result is
// never empty for a valid video.
func (d *SceneDetector) Detect(ctx context.Context, path string, duration float64) ([]Scene, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("scene detection requires positive duration, got %f", duration)
	}

	scenes, err := d.detectAt(ctx, path, duration, d.cfg.Threshold)
	if err != nil {
		return nil, err
	}

	triedLow, triedHigh := false, false
	for {
		switch {
		case len(scenes) < d.cfg.MinScenes && !triedLow:
			triedLow = true
			d.logger.Info("retrying scene detection with lower threshold",
				"scenes", len(scenes), "threshold", d.cfg.LowThreshold)
			retried, err := d.detectAt(ctx, path, duration, d.cfg.LowThreshold)
			if err != nil {
				return nil, err
			}
			scenes = retried
		case len(scenes) > d.cfg.MaxScenes && !triedHigh:
			triedHigh = true
			d.logger.Info("retrying scene detection with higher threshold",
				"scenes", len(scenes), "threshold", d.cfg.HighThreshold)
			retried, err := d.detectAt(ctx, path, duration, d.cfg.HighThreshold)
			if err != nil {
				return nil, err
			}
			scenes = retried
		default:
			return scenes, nil
		}
	}
}

func (d *SceneDetector) detectAt(ctx context.Context, path string, duration, threshold float64) ([]Scene, error) {
	boundaries, err := d.ffmpeg.SceneChanges(ctx, path, threshold)
	if err != nil {
		return nil, err
	}
	return scenesFromBoundaries(boundaries, duration), nil
}

// scenesFromBoundaries converts ascending boundary timestamps into
// contiguous, non-overlapping scenes covering [0, duration). Boundaries
// at or beyond the duration are discarded.
func scenesFromBoundaries(boundaries []float64, duration float64) []Scene {
	starts := []float64{0}
	for _, b := range boundaries {
		if b <= starts[len(starts)-1] || b >= duration {
			continue
		}
		starts = append(starts, b)
	}

	scenes := make([]Scene, len(starts))
	for i, start := range starts {
		end := duration
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		scenes[i] = Scene{Index: i, StartTime: start, EndTime: end}
	}
	return scenes
}
