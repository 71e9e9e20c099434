package summarize

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

type openaiSummarizer struct {
	client *openai.Client
	model  string
}

func newOpenAISummarizer(apiKey string, opts *clientOptions) *openaiSummarizer {
	config := openai.DefaultConfig(apiKey)
	if opts.baseURL != "" {
		config.BaseURL = opts.baseURL
	}

	model := opts.model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &openaiSummarizer{client: openai.NewClientWithConfig(config), model: model}
}

func (s *openaiSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPrompt, transcript)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: empty summary text")
	}
	return text, nil
}
