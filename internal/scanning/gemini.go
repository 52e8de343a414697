package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiConfig configures the Gemini scanner
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, &TransportError{Category: ErrUnauthorized, Message: "gemini api key is required"}
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	if cfg.Temperature > 0 {
		model.SetTemperature(cfg.Temperature)
	}

	return &Gemini{
		client:    client,
		model:     model,
		modelName: cfg.Model,
	}, nil
}

// Scan sends the image and prompt to Gemini and returns the text answer
func (g *Gemini) Scan(ctx context.Context, img Image, prompt string) (string, error) {
	data, mimeType, err := prepareImage(img)
	if err != nil {
		return "", err
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	parts := []genai.Part{
		genai.ImageData(strings.TrimPrefix(mimeType, "image/"), data),
		genai.Text(prompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classifyError(fmt.Errorf("generating content: %w", err))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &TransportError{Category: ErrAPI, Message: "no response from gemini"}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	if resp.UsageMetadata != nil {
		slog.Debug("Gemini call finished",
			"model", g.modelName,
			"input_tokens", resp.UsageMetadata.PromptTokenCount,
			"output_tokens", resp.UsageMetadata.CandidatesTokenCount,
		)
	}

	return text.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
