package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"hulkai.app/hulk-chat/internal/store"
)

const (
	defaultGeminiModelName = "gemini-1.5-flash-latest"

	// Replies are kept short for a phone screen.
	replyMaxTokens   = 150
	replyTemperature = 0.7

	emptyReply = "I'm sorry, I couldn't generate a response right now."
)

// Turn is one prior exchange passed to the completion provider as context.
type Turn struct {
	Role    store.Role
	Content string
}

// Completer is the hosted language-model API.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []Turn, model, systemPrompt string) (string, error)
}

type GeminiCompleter struct {
	client *genai.Client
	logger *zap.Logger
}

func NewGeminiCompleter(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiCompleter{client: client, logger: logger.Named("gemini")}, nil
}

func (c *GeminiCompleter) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("error closing GenAI client: %w", err)
	}
	return nil
}

// geminiModelName keeps catalog entries written for other providers usable:
// anything that is not a Gemini model name runs on the default Gemini model.
func geminiModelName(model string) string {
	if strings.HasPrefix(model, "gemini") {
		return model
	}
	return defaultGeminiModelName
}

func geminiHistory(history []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		role := "user"
		if t.Role == store.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return out
}

func (c *GeminiCompleter) Complete(ctx context.Context, prompt string, history []Turn, model, systemPrompt string) (string, error) {
	name := geminiModelName(model)
	if name != model {
		c.logger.Debug("catalog model mapped to gemini default", zap.String("requested", model), zap.String("using", name))
	}

	m := c.client.GenerativeModel(name)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	m.SetMaxOutputTokens(replyMaxTokens)
	m.SetTemperature(replyTemperature)

	chat := m.StartChat()
	chat.History = geminiHistory(history)

	resp, err := chat.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		c.logger.Warn("gemini response was empty or had no valid candidates")
		return emptyReply, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		} else {
			c.logger.Debug("skipping non-text gemini part", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	if text.Len() == 0 {
		return emptyReply, nil
	}
	return text.String(), nil
}
