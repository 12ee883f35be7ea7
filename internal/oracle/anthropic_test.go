package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClient_Chat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\":true}"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("claude", "secret", srv.URL, 0)
	defer c.Close()
	text, err := c.Chat(context.Background(), ChatRequest{
		Model:     "m",
		MaxTokens: 50,
		Messages:  []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)
	assert.Equal(t, "sys", got.System)
	assert.Equal(t, 50, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestAnthropicClient_RetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", 529)
	}))
	defer srv.Close()

	c := NewAnthropicClient("claude", "k", srv.URL, 0)
	_, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	var re *RetryableError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 529, re.StatusCode)
}

func TestAnthropicClient_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAnthropicClient("claude", "k", srv.URL, 0)
	_, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{Name: "x", Type: TypeOpenAI})
	assert.Error(t, err, "missing key")

	_, err = NewProvider(context.Background(), ProviderConfig{Name: "x", Type: "local", APIKey: "k"})
	assert.Error(t, err)

	p, err := NewProvider(context.Background(), ProviderConfig{Name: "ds", Type: TypeOpenAICompatible, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "ds", p.Name())
}
