package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincore/llmgate/pkg/errors"
	"github.com/fincore/llmgate/pkg/provider"
)

func newTestProvider(handler http.HandlerFunc) (*Provider, *httptest.Server) {
	srv := httptest.NewServer(handler)
	p := New(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithModel("claude-3-5-haiku-20241022"),
	)
	return p, srv
}

func TestGenerateText(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	var gotBody map[string]any

	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-3-5-haiku-20241022",
			"content": []map[string]any{
				{"type": "text", "text": "Hello "},
				{"type": "text", "text": "world"},
			},
			"usage": map[string]int{"input_tokens": 12, "output_tokens": 4},
		})
	})
	defer srv.Close()

	temp := 0.3
	res, err := p.GenerateText(context.Background(), &provider.Request{
		Prompt:      "say hello",
		System:      "be brief",
		Temperature: &temp,
		MaxTokens:   64,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, DefaultAPIVersion, gotVersion)
	assert.Equal(t, "be brief", gotBody["system"])
	assert.InDelta(t, 0.3, gotBody["temperature"].(float64), 0.0001)
	assert.EqualValues(t, 64, gotBody["max_tokens"])

	assert.Equal(t, "Hello world", res.Text)
	assert.Equal(t, ProviderName, res.Provider)
	assert.Equal(t, 12, res.Usage.InputTokens)
	assert.Equal(t, 4, res.Usage.OutputTokens)
}

func TestGenerateTextRateLimited(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`))
	})
	defer srv.Close()

	_, err := p.GenerateText(context.Background(), &provider.Request{Prompt: "hi"})
	require.Error(t, err)

	var gwErr *errors.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, errors.KindTransient, gwErr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, gwErr.StatusCode)
	assert.Equal(t, "slow down", gwErr.Message)
	assert.True(t, gwErr.Retryable)
}

func TestGenerateTextAuthFailurePermanent(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"type": "authentication_error", "message": "invalid key"}}`))
	})
	defer srv.Close()

	_, err := p.GenerateText(context.Background(), &provider.Request{Prompt: "hi"})
	require.Error(t, err)

	var gwErr *errors.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, errors.KindPermanent, gwErr.Kind)
	assert.False(t, gwErr.Retryable)
}

func TestGenerateTextServerErrorTransient(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer srv.Close()

	_, err := p.GenerateText(context.Background(), &provider.Request{Prompt: "hi"})
	require.Error(t, err)

	var gwErr *errors.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, errors.KindTransient, gwErr.Kind)
	assert.True(t, gwErr.Retryable)
}

func TestGenerateTextMalformedBody(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	})
	defer srv.Close()

	_, err := p.GenerateText(context.Background(), &provider.Request{Prompt: "hi"})
	require.Error(t, err)

	var gwErr *errors.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, errors.KindInvalidResponse, gwErr.Kind)
}

func TestGenerateStructuredStripsFences(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-3-5-haiku-20241022",
			"content": []map[string]any{
				{"type": "text", "text": "```json\n{\"merchant\": \"ACME\"}\n```"},
			},
			"usage": map[string]int{"input_tokens": 5, "output_tokens": 9},
		})
	})
	defer srv.Close()

	res, err := p.GenerateStructured(context.Background(), &provider.Request{Prompt: "extract"})
	require.NoError(t, err)
	assert.Equal(t, `{"merchant": "ACME"}`, res.Text)
	assert.True(t, json.Valid([]byte(res.Text)))
}

func TestNewFromConfigRequiresKey(t *testing.T) {
	_, err := NewFromConfig(provider.Config{Type: "anthropic"})
	assert.Error(t, err)
}
