package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

const systemPrompt = `You translate analytics questions about a weekly operations metrics warehouse into JSON.
Return ONLY one JSON object with this shape:
{"task": "filter|compare|trend|aggregate|multivariable|inference|contextual",
 "metrics": ["Lead Penetration" | "Perfect Orders" | "Gross Profit UE" | "Orders"],
 "filters": {"country": "ISO code or null", "city": "name or null", "zone": "name or null", "zone_type": "Wealthy|Non Wealthy|null"},
 "group_by": ["country|city|zone|zone_type|zone_prioritization|week"],
 "time": {"range": "L0W or LnW-L0W", "compare_to": "prev_week|prev_period|none"},
 "ops": {"agg": "mean|sum|median|null", "top_k": integer or null, "order": "asc|desc", "explain": false},
 "visualization": "table|bar|line"}
Week offset 0 is the current week. Use the remembered filters only when the question refers to them.`

// GeminiGenerator proposes specs with a Gemini model.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a generator for the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// GenerateSpec implements domain.SpecGenerator.
func (g *GeminiGenerator) GenerateSpec(ctx context.Context, question string, mem domain.Filters) ([]byte, error) {
	memJSON, err := json.Marshal(mem)
	if err != nil {
		return nil, fmt.Errorf("encode memory: %w", err)
	}

	content := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: fmt.Sprintf("Question: %s\nRemembered filters: %s", question, memJSON)},
			},
		},
	}
	temperature := float32(0.1)
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, content, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	var text string
	if len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		for _, part := range result.Candidates[0].Content.Parts {
			text += part.Text
		}
	}
	text = stripCodeFence(text)
	if text == "" {
		return nil, fmt.Errorf("gemini returned no content")
	}
	return []byte(text), nil
}

// stripCodeFence removes a surrounding ```json fence if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
