// Package llm provides the text-generation capability used to research cities.
package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Request is a single prompt-in request.
type Request struct {
	Prompt string
	// Recency is an optional provider-side search recency filter ("week").
	Recency string
}

// Response is the generated text plus provider metadata. Metadata holds
// decoded provider payloads under "raw", "providerResponse" or
// "additional_kwargs" so citations can be salvaged when Text is unusable.
type Response struct {
	Text     string
	Metadata map[string]any
}

// Generator is a prompt-in, text-out generation capability.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Provider names accepted by New.
const (
	ProviderAnthropic  = "anthropic"
	ProviderGenAI      = "genai"
	ProviderOpenRouter = "openrouter"
)

// Options configures a provider constructed by New.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// New constructs the configured provider.
func New(ctx context.Context, opts Options, logger *slog.Logger) (Generator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: api key for provider %q is not set", opts.Provider)
	}
	switch opts.Provider {
	case ProviderAnthropic:
		return NewAnthropicGenerator(opts.APIKey, opts.Model, logger, opts.BaseURL), nil
	case ProviderGenAI:
		return NewGenAIGenerator(ctx, opts.APIKey, opts.Model, logger)
	case ProviderOpenRouter, "":
		if opts.BaseURL != "" {
			return NewOpenRouterGeneratorWithURL(opts.BaseURL, opts.APIKey, opts.Model, logger), nil
		}
		return NewOpenRouterGenerator(opts.APIKey, opts.Model, logger), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", opts.Provider)
	}
}
