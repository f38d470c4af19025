package media

import (
	"context"
	"errors"
	"testing"
)

type stubFFmpeg struct {
	probe      *ProbeResult
	probeErr   error
	boundaries []float64
	audioErr   error
}

func (s *stubFFmpeg) Probe(context.Context, string) (*ProbeResult, error) {
	return s.probe, s.probeErr
}

func (s *stubFFmpeg) SceneChanges(context.Context, string, float64) ([]float64, error) {
	return s.boundaries, nil
}

func (s *stubFFmpeg) ExtractAudio(context.Context, string, string) error { return s.audioErr }

func (s *stubFFmpeg) ExtractFrame(context.Context, string, string, float64) error { return nil }

type stubTranscriber struct {
	transcript *Transcript
	err        error
}

func (s *stubTranscriber) Transcribe(context.Context, string) (*Transcript, error) {
	return s.transcript, s.err
}

func newTestAnalyzer(t *testing.T, ff FFmpeg, tr Transcriber) *Analyzer {
	t.Helper()
	detector := NewSceneDetector(ff, testDetectorConfig(), nil)
	return NewAnalyzer(ff, detector, tr, t.TempDir(), nil)
}

func TestAnalyze(t *testing.T) {
	ff := &stubFFmpeg{
		probe:      &ProbeResult{Duration: 60, Width: 1920, Height: 1080},
		boundaries: boundariesN(7, 60),
	}
	tr := &stubTranscriber{transcript: &Transcript{
		Text:     "hello world",
		Language: "en",
		Segments: []TranscriptSegment{{Index: 0, StartTime: 0, EndTime: 2.5, Text: "hello world"}},
	}}

	analysis, err := newTestAnalyzer(t, ff, tr).Analyze(context.Background(), "v1", "demo.mp4")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if analysis.Metadata.Duration != 60 {
		t.Errorf("duration = %v, want 60", analysis.Metadata.Duration)
	}
	if len(analysis.Scenes) != 8 {
		t.Errorf("got %d scenes, want 8", len(analysis.Scenes))
	}
	if len(analysis.Segments) != 1 || analysis.Segments[0].Text != "hello world" {
		t.Errorf("segments = %+v, want one segment", analysis.Segments)
	}
	if analysis.Language != "en" {
		t.Errorf("language = %q, want en", analysis.Language)
	}
}

func TestAnalyze_ProbeFailureIsFatal(t *testing.T) {
	ff := &stubFFmpeg{probeErr: errors.New("moov atom not found")}

	_, err := newTestAnalyzer(t, ff, &stubTranscriber{}).Analyze(context.Background(), "v1", "bad.mp4")
	if err == nil {
		t.Fatal("Analyze() with broken probe: want error")
	}
}

func TestAnalyze_TranscriptionFailureIsDegraded(t *testing.T) {
	ff := &stubFFmpeg{
		probe:      &ProbeResult{Duration: 60},
		boundaries: boundariesN(7, 60),
	}
	tr := &stubTranscriber{err: errors.New("api unavailable")}

	analysis, err := newTestAnalyzer(t, ff, tr).Analyze(context.Background(), "v1", "demo.mp4")
	if err != nil {
		t.Fatalf("Analyze() error = %v, want degraded success", err)
	}
	if len(analysis.Segments) != 0 {
		t.Errorf("segments = %+v, want empty", analysis.Segments)
	}
	if len(analysis.Scenes) == 0 {
		t.Error("scenes lost on transcription failure")
	}
}

func TestAnalyze_NoAudioTrackIsDegraded(t *testing.T) {
	ff := &stubFFmpeg{
		probe:      &ProbeResult{Duration: 60},
		boundaries: boundariesN(7, 60),
		audioErr:   errors.New("no audio stream"),
	}

	analysis, err := newTestAnalyzer(t, ff, &stubTranscriber{}).Analyze(context.Background(), "v1", "silent.mp4")
	if err != nil {
		t.Fatalf("Analyze() error = %v, want degraded success", err)
	}
	if len(analysis.Segments) != 0 {
		t.Errorf("segments = %+v, want empty", analysis.Segments)
	}
}

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"garbage", 0},
	}
	for _, c := range cases {
		if got := parseFrameRate(c.in); got != c.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
