// Package provider defines the public interface for LLM provider adapters.
// Each provider (Anthropic, OpenAI, Bedrock, Ollama) implements this
// interface so the router can dispatch requests without knowing transport
// details.
package provider

import (
	"context"
)

// Request is a unified text generation request.
type Request struct {
	Prompt      string            `json:"prompt"`
	System      string            `json:"system,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	UseCase     string            `json:"use_case,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Usage reports the token consumption of a single call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is a unified text generation result.
// For structured calls, Text holds the raw JSON payload.
type Result struct {
	Text     string `json:"text"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Usage    Usage  `json:"usage"`
}

// Provider defines the interface that all LLM provider adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string

	// Model returns the default model this adapter targets.
	Model() string

	// GenerateText sends a completion request and returns the text result.
	GenerateText(ctx context.Context, req *Request) (*Result, error)

	// GenerateStructured sends a completion request expecting a JSON payload.
	// Implementations return the raw JSON in Result.Text; callers validate it.
	GenerateStructured(ctx context.Context, req *Request) (*Result, error)

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}

// Config contains provider-specific configuration.
type Config struct {
	Name    string
	Type    string
	APIKey  string
	BaseURL string
	Model   string
	Region  string // Bedrock only
	Headers map[string]string
}

// Factory creates a provider instance from configuration.
type Factory func(cfg Config) (Provider, error)
