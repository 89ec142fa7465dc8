package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/store"
)

var errNoChoices = errors.New("completion returned no choices")

// OpenAICompleter talks to an OpenAI-compatible chat completions endpoint.
type OpenAICompleter struct {
	llm    llms.Model
	logger *zap.Logger
}

func NewOpenAICompleter(apiKey, baseURL string, logger *zap.Logger) (*OpenAICompleter, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return newOpenAICompleter(llm, logger), nil
}

func newOpenAICompleter(llm llms.Model, logger *zap.Logger) *OpenAICompleter {
	return &OpenAICompleter{llm: llm, logger: logger.Named("openai")}
}

func openAIMessages(prompt string, history []Turn, systemPrompt string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	for _, t := range history {
		role := llms.ChatMessageTypeHuman
		if t.Role == store.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, t.Content))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, history []Turn, model, systemPrompt string) (string, error) {
	resp, err := c.llm.GenerateContent(ctx, openAIMessages(prompt, history, systemPrompt),
		llms.WithModel(model),
		llms.WithMaxTokens(replyMaxTokens),
		llms.WithTemperature(replyTemperature),
	)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	if resp.Choices[0].Content == "" {
		c.logger.Warn("openai returned an empty completion", zap.String("model", model))
		return emptyReply, nil
	}
	return resp.Choices[0].Content, nil
}
