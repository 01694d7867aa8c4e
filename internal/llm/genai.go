package llm

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/ajitpratap0/cityscope/internal/prompt"
)

const genAIDefaultModel = "gemini-2.5-flash"

// GenAIGenerator generates city content with Gemini, grounded on Google Search.
type GenAIGenerator struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGenAIGenerator creates a Gemini-backed generator.
func NewGenAIGenerator(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = genAIDefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model, logger: logger}, nil
}

// Generate runs one grounded generation. Grounding chunks are exposed as
// providerResponse.search_results in the metadata.
func (g *GenAIGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	result, err := g.client.Models.GenerateContent(ctx,
		g.model,
		genai.Text(req.Prompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
			Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("empty response from GenAI")
	}

	g.logger.Debug("genai generation response", "model", g.model, "chars", len(text))

	return &Response{
		Text: text,
		Metadata: map[string]any{
			"providerResponse": map[string]any{"search_results": groundingResults(result)},
		},
	}, nil
}

// groundingResults flattens web grounding chunks into search_results entries.
func groundingResults(result *genai.GenerateContentResponse) []any {
	out := []any{}
	if result == nil {
		return out
	}
	for _, cand := range result.Candidates {
		if cand == nil || cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			title := chunk.Web.Title
			if title == "" {
				title = chunk.Web.Domain
			}
			out = append(out, map[string]any{"title": title, "url": chunk.Web.URI})
		}
	}
	return out
}
