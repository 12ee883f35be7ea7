package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewAnthropicClient(name, apiKey, baseURL string, timeout time.Duration) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicClient{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AnthropicClient) Name() string { return c.name }

// Chat sends system messages as the system prompt and the rest as turns.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temp := req.Temperature
	reqBody := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: &temp,
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		reqBody.Messages = append(reqBody.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	reqBody.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if retryableStatus(resp.StatusCode) {
		return "", &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic api status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from anthropic")
	}
	return text.String(), nil
}

// Close releases resources.
func (c *AnthropicClient) Close() {
	c.httpClient.CloseIdleConnections()
}
