package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/cityscope/internal/prompt"
)

const (
	openRouterURL          = "https://openrouter.ai/api/v1"
	openRouterHTTPTimeout  = 90 * time.Second
	openRouterDefaultModel = "perplexity/sonar-pro"
)

// OpenRouterGenerator calls an OpenAI-compatible chat completions endpoint.
// With Perplexity models the response body carries search_results, which
// end up in the metadata under "raw".
type OpenRouterGenerator struct {
	apiKey      string
	model       string
	endpointURL string
	client      *http.Client
	logger      *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body sent to /chat/completions. search_mode and
// search_recency_filter are forwarded to the upstream search provider.
type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	SearchMode          string        `json:"search_mode,omitempty"`
	SearchRecencyFilter string        `json:"search_recency_filter,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// NewOpenRouterGenerator creates a generator against the public OpenRouter API.
func NewOpenRouterGenerator(apiKey, model string, logger *slog.Logger) *OpenRouterGenerator {
	return NewOpenRouterGeneratorWithURL(openRouterURL, apiKey, model, logger)
}

// NewOpenRouterGeneratorWithURL creates a generator against a custom base URL.
// This is intended for testing with a local httptest server.
func NewOpenRouterGeneratorWithURL(baseURL, apiKey, model string, logger *slog.Logger) *OpenRouterGenerator {
	if model == "" {
		model = openRouterDefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenRouterGenerator{
		apiKey:      apiKey,
		model:       model,
		endpointURL: strings.TrimRight(baseURL, "/") + "/chat/completions",
		client:      &http.Client{Timeout: openRouterHTTPTimeout},
		logger:      logger,
	}
}

// Generate sends one chat completion with web search enabled.
func (o *OpenRouterGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	reqBody := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: req.Prompt},
		},
		SearchMode:          "web",
		SearchRecencyFilter: req.Recency,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openrouter: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpointURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("openrouter: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter: calling API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openrouter: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatErrorResponse
		if jsonErr := json.Unmarshal(rawBody, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("openrouter: API error %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("openrouter: API returned %d: %s", resp.StatusCode, string(rawBody))
	}

	var result chatResponse
	if err = json.Unmarshal(rawBody, &result); err != nil {
		return nil, fmt.Errorf("openrouter: decoding response: %w", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openrouter: empty response")
	}

	meta := map[string]any{}
	var raw map[string]any
	if jsonErr := json.Unmarshal(rawBody, &raw); jsonErr == nil {
		meta["raw"] = raw
	}

	text := result.Choices[0].Message.Content
	o.logger.Debug("openrouter generation response", "model", o.model, "chars", len(text), "recency", req.Recency)
	return &Response{Text: text, Metadata: meta}, nil
}
