package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultMaxTokens  = 2000
)

// OpenRouterConfig configures the OpenRouter scanner
type OpenRouterConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	// Referer and Title identify the app on OpenRouter's dashboard
	Referer string
	Title   string
}

// OpenRouter implements the Scanner interface over OpenRouter's
// OpenAI-compatible chat completions API
type OpenRouter struct {
	httpClient *resty.Client
	cfg        OpenRouterConfig
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openRouterMessage struct {
	Role    string              `json:"role"`
	Content []openRouterContent `json:"content"`
}

type openRouterContent struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openRouterError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenRouter creates a new OpenRouter Scanner instance
func NewOpenRouter(cfg OpenRouterConfig) (*OpenRouter, error) {
	if cfg.APIKey == "" {
		return nil, &TransportError{Category: ErrUnauthorized, Message: "openrouter api key is required"}
	}
	if cfg.Model == "" {
		cfg.Model = "anthropic/claude-3.5-sonnet"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Title == "" {
		cfg.Title = "MedBill Analyzer"
	}

	httpClient := resty.New().
		SetDebug(false).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(120*time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeaders(map[string]string{
			"Content-Type": "application/json",
			"X-Title":      cfg.Title,
		})
	if cfg.Referer != "" {
		httpClient.SetHeader("HTTP-Referer", cfg.Referer)
	}

	return &OpenRouter{httpClient: httpClient, cfg: cfg}, nil
}

// Scan sends the image as a data URL together with the prompt
func (o *OpenRouter) Scan(ctx context.Context, img Image, prompt string) (string, error) {
	data, mimeType, err := prepareImage(img)
	if err != nil {
		return "", err
	}

	body := openRouterRequest{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		Messages: []openRouterMessage{
			{
				Role: "user",
				Content: []openRouterContent{
					{
						Type: "image_url",
						ImageURL: &openRouterImageURL{
							URL: fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
						},
					},
					{Type: "text", Text: prompt},
				},
			},
		},
	}

	result := &openRouterResponse{}
	apiErr := &openRouterError{}
	res, err := o.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", classifyError(fmt.Errorf("calling openrouter API: %w", err))
	}
	if res.IsError() {
		message := apiErr.Error.Message
		if message == "" {
			message = res.Status()
		}
		return "", classifyStatus(res.StatusCode(), message)
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", &TransportError{Category: ErrAPI, Message: "empty response from openrouter"}
	}

	slog.Debug("OpenRouter call finished",
		"model", result.Model,
		"input_tokens", result.Usage.PromptTokens,
		"output_tokens", result.Usage.CompletionTokens,
	)

	return result.Choices[0].Message.Content, nil
}

// Close is a no-op; resty holds no resources that need releasing
func (o *OpenRouter) Close() error {
	return nil
}
