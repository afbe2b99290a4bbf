// Package openai provides the OpenAI chat completions provider adapter.
package openai

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
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when the config does not name one.
	DefaultModel = "gpt-4o-mini"
)

// Provider implements the OpenAI chat completions adapter.
type Provider struct {
	apiKey     string
	baseURL    string
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

// New creates an OpenAI provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    DefaultBaseURL,
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
		return nil, fmt.Errorf("openai: api key is required")
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

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
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

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateText sends a chat completion request.
func (p *Provider) GenerateText(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
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

// HealthCheck lists models to verify connectivity and credentials.
func (p *Provider) HealthCheck(ctx context.Context) error {
	url := strings.TrimSuffix(p.baseURL, "/") + "/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return errors.NewTransient(ProviderName, p.model, err.Error(), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return p.mapError(resp.StatusCode, body)
	}
	return nil
}

func (p *Provider) invoke(ctx context.Context, body *chatRequest) (*provider.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
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

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.NewInvalidResponse(ProviderName, p.model, "decode response: "+err.Error())
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.NewInvalidResponse(ProviderName, p.model, "response has no choices")
	}

	return &provider.Result{
		Text:     parsed.Choices[0].Message.Content,
		Model:    parsed.Model,
		Provider: ProviderName,
		Usage: provider.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

func (p *Provider) mapError(statusCode int, body []byte) error {
	message := string(body)
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}
	return errors.FromStatusCode(ProviderName, p.model, statusCode, message)
}
