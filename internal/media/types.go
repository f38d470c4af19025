// Package media analyzes video files: probing metadata, detecting scene
// boundaries, extracting audio and keyframes, and transcribing speech.
// All heavy lifting is delegated to ffmpeg/ffprobe subprocesses and a
// speech-to-text provider; this package owns the orchestration and the
// cleanup of temporary artifacts.
package media

// Scene is an ordered, non-overlapping [StartTime, EndTime) interval.
type Scene struct {
	Index     int     `json:"index"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Duration returns the scene length in seconds.
func (s Scene) Duration() float64 { return s.EndTime - s.StartTime }

// Midpoint returns the timestamp used for keyframe extraction.
func (s Scene) Midpoint() float64 { return s.StartTime + (s.EndTime-s.StartTime)/2 }

// TranscriptSegment is a time-aligned span of transcribed speech. Its
// interval set is independent from scenes and may not align with them.
type TranscriptSegment struct {
	Index     int     `json:"index"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

// Transcript is the full output of a transcription pass.
type Transcript struct {
	Text     string              `json:"text"`
	Language string              `json:"language"`
	Segments []TranscriptSegment `json:"segments"`
}

// ProbeResult holds container/stream metadata from ffprobe.
type ProbeResult struct {
	Duration  float64
	SizeBytes int64
	Width     int
	Height    int
	FrameRate float64
	Codec     string
}

// Analysis is the combined result of scene detection and transcription
// for one video.
type Analysis struct {
	Metadata ProbeResult
	Scenes   []Scene
	Segments []TranscriptSegment
	Language string
}
