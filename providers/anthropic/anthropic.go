// Package anthropic provides the Anthropic Claude provider adapter.
// It speaks the Messages API and maps API failures to gateway error kinds.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/fincore/llmgate/pkg/errors"
	"github.com/fincore/llmgate/pkg/provider"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the default Anthropic API version.
	DefaultAPIVersion = "2023-06-01"

	// DefaultModel is used when the config does not name one.
	DefaultModel = "claude-3-5-sonnet-20241022"

	// DefaultMaxTokens is the default max tokens for Anthropic models.
	DefaultMaxTokens = 4096
)

// Provider implements the Anthropic Messages API adapter.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	headers    map[string]string
	httpClient *http.Client
}

// Option configures the provider.
type Option func(*Provider)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.httpClient = client }
}

// New creates an Anthropic provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		model:      DefaultModel,
		headers:    make(map[string]string),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	p := New(
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
	)
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// Model returns the configured model.
func (p *Provider) Model() string {
	return p.model
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateText sends a completion request to the Messages API.
func (p *Provider) GenerateText(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	body := anthropicRequest{
		Model:       p.model,
		MaxTokens:   DefaultMaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}

	return p.invoke(ctx, &body)
}

// GenerateStructured requests JSON output and trims it to the payload.
func (p *Provider) GenerateStructured(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	res, err := p.GenerateText(ctx, req)
	if err != nil {
		return nil, err
	}
	res.Text = provider.ExtractJSON(res.Text)
	return res, nil
}

// HealthCheck sends a minimal one-token request.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.invoke(ctx, &anthropicRequest{
		Model:     p.model,
		MaxTokens: 1,
		Messages: []anthropicMessage{
			{Role: "user", Content: "ping"},
		},
	})
	return err
}

func (p *Provider) invoke(ctx context.Context, body *anthropicRequest) (*provider.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewTimeout(ProviderName, p.model, err)
		}
		return nil, errors.NewTransient(ProviderName, p.model, err.Error(), 0)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransient(ProviderName, p.model, "read response: "+err.Error(), 0)
	}

	if resp.StatusCode >= 400 {
		return nil, p.mapError(resp.StatusCode, data)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.NewInvalidResponse(ProviderName, p.model, "decode response: "+err.Error())
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &provider.Result{
		Text:     sb.String(),
		Model:    parsed.Model,
		Provider: ProviderName,
		Usage: provider.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

func (p *Provider) mapError(statusCode int, body []byte) error {
	message := string(body)
	var apiErr anthropicError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}
	return errors.FromStatusCode(ProviderName, p.model, statusCode, message)
}
