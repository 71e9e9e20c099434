package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the Whisper model used when none is configured.
const DefaultModel = "whisper-1"

// FileNameForMIME maps a declared MIME type to the filename sent to the
// transcription service. Whisper dispatches on file extension rather than
// the declared MIME type, so the fallback order (wav, then mp3, then m4a,
// else webm) matters.
func FileNameForMIME(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return "meeting.wav"
	case strings.Contains(mimeType, "mp3"):
		return "meeting.mp3"
	case strings.Contains(mimeType, "m4a"):
		return "meeting.m4a"
	default:
		return "meeting.webm"
	}
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// Whisper transcribes audio through the OpenAI transcription endpoint.
// The API key is supplied per call because every user brings their own.
type Whisper struct {
	model   string
	baseURL string
}

func NewWhisper(model string, opts ...Option) *Whisper {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return &Whisper{model: model, baseURL: o.baseURL}
}

// Transcribe sends the audio for transcription and returns the trimmed
// transcript text. No language hint is passed; the service auto-detects.
func (w *Whisper) Transcribe(ctx context.Context, apiKey string, audio []byte, mimeType string) (string, error) {
	config := openai.DefaultConfig(apiKey)
	if w.baseURL != "" {
		config.BaseURL = w.baseURL
	}
	client := openai.NewClientWithConfig(config)

	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Reader:   bytes.NewReader(audio),
		FilePath: FileNameForMIME(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}

	return strings.TrimSpace(resp.Text), nil
}
