package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/fincore/llmgate"
	"github.com/fincore/llmgate/pkg/errors"
)

type handler struct {
	client *llmgate.Client
	logger *slog.Logger
}

func newHandler(client *llmgate.Client, logger *slog.Logger) *handler {
	return &handler{client: client, logger: logger}
}

type generateRequest struct {
	Prompt      string            `json:"prompt"`
	System      string            `json:"system,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	UseCase     string            `json:"use_case,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Generate handles POST /v1/generate.
func (h *handler) Generate(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.client.GenerateText)
}

// Extract handles POST /v1/extract. The response text is valid JSON.
func (h *handler) Extract(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.client.ExtractStructured)
}

func (h *handler) serve(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, req *llmgate.Request) (*llmgate.Response, error)) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.Prompt == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}

	resp, err := call(r.Context(), &llmgate.Request{
		Prompt:      body.Prompt,
		System:      body.System,
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
		UseCase:     body.UseCase,
		Provider:    body.Provider,
		Identity:    identityFrom(r),
		Extra:       body.Extra,
	})
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /v1/health: provider reachability plus breaker states.
func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	providerErrs := h.client.HealthCheck(r.Context())

	providerStatus := make(map[string]string, len(providerErrs))
	healthy := true
	for name, err := range providerErrs {
		if err != nil {
			providerStatus[name] = err.Error()
			healthy = false
		} else {
			providerStatus[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, map[string]any{
		"healthy":   healthy,
		"providers": providerStatus,
		"breakers":  h.client.CircuitStatus(),
	})
}

// Breakers handles GET /v1/breakers.
func (h *handler) Breakers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.client.CircuitStatus())
}

// CacheStats handles GET /v1/cache/stats.
func (h *handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.client.CacheStats())
}

// MetricsSummary handles GET /v1/metrics/summary with optional provider
// and use_case query filters.
func (h *handler) MetricsSummary(w http.ResponseWriter, r *http.Request) {
	filter := llmgate.UsageFilter{
		Provider: r.URL.Query().Get("provider"),
		UseCase:  r.URL.Query().Get("use_case"),
	}
	h.writeJSON(w, http.StatusOK, h.client.MetricsSummary(filter))
}

// identityFrom derives the rate limit identity: the API key when one is
// presented, otherwise the caller's host.
func identityFrom(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *handler) writeGatewayError(w http.ResponseWriter, err error) {
	var gwErr *errors.Error
	if !stderrors.As(err, &gwErr) {
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if gwErr.Kind == errors.KindRateLimited && gwErr.RetryAfter > 0 {
		seconds := int(gwErr.RetryAfter/time.Second) + 1
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	h.writeError(w, gwErr.HTTPStatusCode(), string(gwErr.Kind), gwErr.Message)
}

func (h *handler) writeError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("response encode failed", "error", err)
	}
}
