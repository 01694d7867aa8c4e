package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ajitpratap0/cityscope/internal/prompt"
)

const anthropicDefaultModel = "claude-haiku-4-5-20251001"

// AnthropicGenerator generates city content with Claude.
type AnthropicGenerator struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropicGenerator creates a Claude-backed generator. baseURL is optional
// and only set when pointing the client at a test server.
func NewAnthropicGenerator(apiKey, model string, logger *slog.Logger, baseURL string) *AnthropicGenerator {
	if model == "" {
		model = anthropicDefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicGenerator{
		client: &client,
		model:  model,
		logger: logger,
	}
}

// Generate sends the prompt as a single user message.
// Claude has no recency filter; the prompt itself carries the window.
func (a *AnthropicGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(req.Prompt),
			),
		},
		System: []anthropic.TextBlockParam{
			{Text: prompt.System},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}

	var text string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text = resp.Content[i].Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("empty response from Claude")
	}

	a.logger.Debug("claude generation response", "model", a.model, "chars", len(text))

	meta := map[string]any{}
	var raw map[string]any
	if jsonErr := json.Unmarshal([]byte(resp.RawJSON()), &raw); jsonErr == nil {
		meta["raw"] = raw
	}
	return &Response{Text: text, Metadata: meta}, nil
}
