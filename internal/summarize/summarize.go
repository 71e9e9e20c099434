// Package summarize turns meeting transcripts into concise summaries using
// the AI provider each user has configured.
package summarize

import (
	"context"
	"fmt"
)

const (
	systemPrompt = "You are a helpful assistant that creates concise meeting summaries. Always respond in the same language as the transcript."
	userPrompt   = "Please create a concise summary of this meeting transcript (respond in the same language as the transcript):\n\n%s"
)

// Summarizer produces a summary for a meeting transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
	model   string
}

// WithBaseURL overrides the provider endpoint, mainly for tests.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *clientOptions) {
		o.model = model
	}
}

// New builds a Summarizer for the given provider using the caller's API key.
func New(provider, apiKey string, opts ...Option) (Summarizer, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAISummarizer(apiKey, o), nil
	case "gemini":
		return newGeminiSummarizer(apiKey, o)
	default:
		return nil, fmt.Errorf("unknown summary provider %q: supported providers are openai, gemini", provider)
	}
}
