// Package ollama provides the local Ollama provider adapter.
// Local models cost nothing, so Ollama is the default target for
// high-volume, low-stakes use cases.
package ollama

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
	ProviderName = "ollama"

	// DefaultBaseURL is the default local Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is used when the config does not name one.
	DefaultModel = "llama3.2"
)

// Provider implements the Ollama generate API adapter.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option configures the provider.
type Option func(*Provider)

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

// New creates an Ollama provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
	), nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// Model returns the configured model.
func (p *Provider) Model() string {
	return p.model
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// GenerateText sends a non-streaming generate request.
func (p *Provider) GenerateText(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	body := generateRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
	}

	options := make(map[string]any)
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		body.Options = options
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, errors.FromStatusCode(ProviderName, p.model, resp.StatusCode, string(data))
	}

	var parsed generateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.NewInvalidResponse(ProviderName, p.model, "decode response: "+err.Error())
	}

	return &provider.Result{
		Text:     parsed.Response,
		Model:    parsed.Model,
		Provider: ProviderName,
		Usage: provider.Usage{
			InputTokens:  parsed.PromptEvalCount,
			OutputTokens: parsed.EvalCount,
		},
	}, nil
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

// HealthCheck verifies the Ollama daemon is reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	url := strings.TrimSuffix(p.baseURL, "/") + "/api/tags"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return errors.NewTransient(ProviderName, p.model, err.Error(), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return errors.FromStatusCode(ProviderName, p.model, resp.StatusCode, string(body))
	}
	return nil
}
