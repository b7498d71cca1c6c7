package ai

import (
	"context"
	"encoding/json"
)

// TextGenerator generates free text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// JSONGenerator generates a JSON document constrained by a response schema.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (json.RawMessage, error)
}

// Generator is the full capability set the tutor needs from a provider.
type Generator interface {
	TextGenerator
	JSONGenerator
}

// GeminiGenerator binds a GeminiClient to a fixed model.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-backed Generator.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt)
}

func (g *GeminiGenerator) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (json.RawMessage, error) {
	return g.client.GenerateJSON(ctx, g.model, systemPrompt, userPrompt, schema)
}
