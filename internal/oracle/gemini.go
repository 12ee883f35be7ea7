package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient calls the Gemini API through the official genai client.
type GeminiClient struct {
	name string
	cli  *genai.Client
}

func NewGeminiClient(ctx context.Context, name, apiKey string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{name: name, cli: cli}, nil
}

func (g *GeminiClient) Name() string { return g.name }

// Chat folds the system messages into the system instruction and joins the
// remaining turns into one user prompt.
func (g *GeminiClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var system, user []string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
		} else {
			user = append(user, m.Content)
		}
	}
	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}

	resp, err := g.cli.Models.GenerateContent(ctx, req.Model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: strings.Join(user, "\n\n")}}}},
		cfg,
	)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrMalformedResponse)
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String(), nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && retryableStatus(apiErr.Code) {
		return &RetryableError{StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return fmt.Errorf("gemini api: %w", err)
}
