// ABOUTME: Gemini-backed text generator using the google.golang.org/genai SDK
// ABOUTME: Builds the reply from an agent prompt concatenated with the inbound text

package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

// Gemini generates replies through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGemini creates a Gemini generator. model may be empty to use the
// default.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	return &Gemini{
		client: client,
		model:  model,
		logger: slog.Default().With("component", "generator"),
	}, nil
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt, userText string) (string, error) {
	full := userText
	if prompt != "" {
		full = prompt + "\n\nMensaje del cliente: " + userText
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(full), nil)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty reply from model")
	}

	g.logger.Debug("reply generated", "model", g.model, "chars", len(text))
	return text, nil
}
