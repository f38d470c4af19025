package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber turns an audio file into a time-aligned transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*Transcript, error)
}

// WhisperTranscriber transcribes through the OpenAI audio API using the
// whisper-1 model with verbose JSON output for segment timestamps.
type WhisperTranscriber struct {
	client *openai.Client
	logger *slog.Logger
}

func NewWhisperTranscriber(apiKey string, logger *slog.Logger) *WhisperTranscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhisperTranscriber{client: openai.NewClient(apiKey), logger: logger}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (*Transcript, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription: %w", err)
	}

	t := &Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Segments: make([]TranscriptSegment, 0, len(resp.Segments)),
	}
	for i, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		t.Segments = append(t.Segments, TranscriptSegment{
			Index:     i,
			StartTime: seg.Start,
			EndTime:   seg.End,
			Text:      text,
		})
	}
	return t, nil
}
