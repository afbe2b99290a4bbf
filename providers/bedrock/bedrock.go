// Package bedrock provides the AWS Bedrock provider adapter.
// Requests are signed with SigV4 and sent to the Bedrock runtime invoke
// endpoint directly; only Anthropic-family models are wired up.
package bedrock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/goccy/go-json"

	"github.com/fincore/llmgate/pkg/errors"
	"github.com/fincore/llmgate/pkg/provider"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "bedrock"

	// DefaultModel is used when the config does not name one.
	DefaultModel = "anthropic.claude-3-haiku-20240307-v1:0"

	// DefaultMaxTokens is the default max tokens for invoked models.
	DefaultMaxTokens = 4096

	anthropicVersion = "bedrock-2023-05-31"
	signingService   = "bedrock"
)

// Provider implements the Bedrock runtime adapter.
type Provider struct {
	awsCfg     aws.Config
	region     string
	model      string
	httpClient *http.Client
}

// New creates a Bedrock provider from a resolved AWS config.
func New(awsCfg aws.Config, model string) *Provider {
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		awsCfg:     awsCfg,
		region:     awsCfg.Region,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// NewFromConfig creates a provider from a Config struct.
// Credentials come from the standard AWS chain (env, shared config,
// instance role); an APIKey of the form "id:secret" overrides it.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.APIKey != "" {
		id, secret, ok := strings.Cut(cfg.APIKey, ":")
		if !ok {
			return nil, fmt.Errorf("bedrock: api_key must be \"access_key_id:secret_access_key\"")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("bedrock: region is required")
	}

	return New(awsCfg, cfg.Model), nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// Model returns the configured model.
func (p *Provider) Model() string {
	return p.model
}

type invokePayload struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	Messages         []invokeMessage `json:"messages"`
}

type invokeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// GenerateText invokes the model through the Bedrock runtime endpoint.
func (p *Provider) GenerateText(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	payload := invokePayload{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        DefaultMaxTokens,
		System:           req.System,
		Temperature:      req.Temperature,
		Messages: []invokeMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke", p.region, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if err := p.sign(ctx, httpReq, body); err != nil {
		return nil, err
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
		return nil, errors.FromStatusCode(ProviderName, p.model, resp.StatusCode, string(data))
	}

	var parsed invokeResponse
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
		Model:    p.model,
		Provider: ProviderName,
		Usage: provider.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
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

// HealthCheck verifies that credentials resolve. It does not invoke a
// model; Bedrock bills per invocation.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("bedrock: retrieve credentials: %w", err)
	}
	return nil
}

func (p *Provider) sign(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := p.awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve credentials: %w", err)
	}

	payloadHash := sha256.Sum256(body)
	hexHash := hex.EncodeToString(payloadHash[:])

	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, creds, req, hexHash, signingService, p.region, time.Now()); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	return nil
}
