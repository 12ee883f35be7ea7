package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Default endpoints for OpenAI-style providers.
const (
	openAIBaseURL           = "https://api.openai.com/v1"
	openAICompatibleBaseURL = "https://api.deepseek.com/v1"
)

// OpenAIClient serves both OpenAI and OpenAI-compatible endpoints.
type OpenAIClient struct {
	name   string
	client *openai.Client
}

func NewOpenAIClient(name, apiKey, baseURL string, timeout time.Duration) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIClient{name: name, client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", c.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && retryableStatus(apiErr.HTTPStatusCode) {
		return &RetryableError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && retryableStatus(reqErr.HTTPStatusCode) {
		return &RetryableError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("openai api: %w", err)
}
