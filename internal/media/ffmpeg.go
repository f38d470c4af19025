package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// maxToolOutput caps captured ffmpeg/ffprobe output so a pathological
// input cannot balloon memory. Scene detection on long videos emits one
// showinfo line per boundary, well under this cap.
const maxToolOutput = 4 << 20

// FFmpeg abstracts the ffmpeg/ffprobe subprocess calls the analyzer and
// ingestion pipeline need. The interface exists so tests can substitute
// a fake without shelling out.
type FFmpeg interface {
	// Probe returns container and stream metadata for a video file.
	Probe(ctx context.Context, path string) (*ProbeResult, error)

	// SceneChanges returns the pts timestamps (seconds, ascending) at
	// which the frame-difference score exceeds threshold.
	SceneChanges(ctx context.Context, path string, threshold float64) ([]float64, error)

	// ExtractAudio writes a mono 16 kHz WAV of the video's audio track
	// to outPath. Videos without an audio track return an error.
	ExtractAudio(ctx context.Context, videoPath, outPath string) error

	// ExtractFrame writes a single JPEG frame at offset seconds.
	ExtractFrame(ctx context.Context, videoPath, outPath string, offset float64) error
}

// Runner shells out to ffmpeg and ffprobe binaries.
type Runner struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

func NewRunner(ffmpegPath, ffprobePath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

func (r *Runner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, r.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	result.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	result.SizeBytes, _ = strconv.ParseInt(probed.Format.Size, 10, 64)

	for _, s := range probed.Streams {
		if s.CodecType != "video" {
			continue
		}
		result.Width = s.Width
		result.Height = s.Height
		result.Codec = s.CodecName
		result.FrameRate = parseFrameRate(s.RFrameRate)
		if result.FrameRate == 0 {
			result.FrameRate = parseFrameRate(s.AvgFrameRate)
		}
		break
	}

	if result.Duration <= 0 {
		return nil, fmt.Errorf("ffprobe %s: no duration in output", path)
	}
	return result, nil
}

// parseFrameRate converts ffprobe's rational notation ("30000/1001") to
// frames per second.
func parseFrameRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		f, _ := strconv.ParseFloat(rate, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func (r *Runner) SceneChanges(ctx context.Context, path string, threshold float64) ([]float64, error) {
	filter := fmt.Sprintf("select='gt(scene,%.2f)',showinfo", threshold)
	cmd := exec.CommandContext(ctx, r.ffmpegPath,
		"-hide_banner",
		"-i", path,
		"-vf", filter,
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = newLimitedWriter(&stderr, maxToolOutput)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg scene detection on %s: %w (%s)", path, err, tail(stderr.String(), 512))
	}
	return parseShowinfoTimes(stderr.String()), nil
}

var ptsTimeRe = regexp.MustCompile(`pts_time:\s*([0-9]+(?:\.[0-9]+)?)`)

// parseShowinfoTimes extracts the pts_time values from showinfo log
// lines. ffmpeg writes them to stderr interleaved with progress output.
func parseShowinfoTimes(out string) []float64 {
	var times []float64
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Parsed_showinfo") {
			continue
		}
		m := ptsTimeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		t, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		times = append(times, t)
	}
	return times
}

func (r *Runner) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	cmd := exec.CommandContext(ctx, r.ffmpegPath,
		"-hide_banner",
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = newLimitedWriter(&stderr, maxToolOutput)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg audio extraction from %s: %w (%s)", videoPath, err, tail(stderr.String(), 512))
	}
	return nil
}

func (r *Runner) ExtractFrame(ctx context.Context, videoPath, outPath string, offset float64) error {
	cmd := exec.CommandContext(ctx, r.ffmpegPath,
		"-hide_banner",
		"-y",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = newLimitedWriter(&stderr, maxToolOutput)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg frame extraction at %.3fs from %s: %w (%s)", offset, videoPath, err, tail(stderr.String(), 512))
	}
	return nil
}

// tail returns the last n bytes of s, for error messages.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// limitedWriter discards writes past a byte budget so subprocess output
// capture is bounded.
type limitedWriter struct {
	w      *bytes.Buffer
	remain int
}

func newLimitedWriter(w *bytes.Buffer, limit int) *limitedWriter {
	return &limitedWriter{w: w, remain: limit}
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.remain <= 0 {
		return n, nil
	}
	if n > lw.remain {
		p = p[:lw.remain]
	}
	lw.w.Write(p)
	lw.remain -= len(p)
	return n, nil
}
