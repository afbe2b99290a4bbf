// Package pricing computes the USD cost of LLM calls from token counts.
package pricing

import (
	"strings"
)

// ModelPricing defines the pricing for a model pattern.
// Patterns ending in "*" match any model with that prefix.
type ModelPricing struct {
	Model           string
	InputCostPer1K  float64 // USD per 1000 input tokens
	OutputCostPer1K float64 // USD per 1000 output tokens
}

// DefaultPricing contains default per-provider pricing for common models.
// Prices are in USD per 1000 tokens.
var DefaultPricing = map[string][]ModelPricing{
	"anthropic": {
		{Model: "claude-3-5-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
		{Model: "claude-3-5-haiku*", InputCostPer1K: 0.0008, OutputCostPer1K: 0.004},
		{Model: "claude-3-opus*", InputCostPer1K: 0.015, OutputCostPer1K: 0.075},
		{Model: "claude-3-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
		{Model: "claude-3-haiku*", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125},
	},
	"openai": {
		{Model: "gpt-4o", InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
		{Model: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
		{Model: "gpt-4-turbo*", InputCostPer1K: 0.01, OutputCostPer1K: 0.03},
		{Model: "gpt-4*", InputCostPer1K: 0.03, OutputCostPer1K: 0.06},
		{Model: "gpt-3.5-turbo*", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},
	},
	"bedrock": {
		{Model: "anthropic.claude-3-5-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
		{Model: "anthropic.claude-3-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
		{Model: "anthropic.claude-3-haiku*", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125},
		{Model: "amazon.titan-text-express*", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0006},
		{Model: "meta.llama3*", InputCostPer1K: 0.0003, OutputCostPer1K: 0.0006},
	},
	// Local models are free
	"ollama": {
		{Model: "*", InputCostPer1K: 0, OutputCostPer1K: 0},
	},
}

// Calculator calculates the cost of API usage per provider and model.
type Calculator struct {
	pricing map[string][]ModelPricing
}

// NewCalculator creates a pricing calculator.
// If no pricing is provided, DefaultPricing is used.
func NewCalculator(pricing map[string][]ModelPricing) *Calculator {
	if pricing == nil {
		pricing = DefaultPricing
	}

	c := &Calculator{
		pricing: make(map[string][]ModelPricing, len(pricing)),
	}
	// Copy the slices too: AddPricing mutates in place, and the defaults
	// are shared by every calculator in the process.
	for providerName, models := range pricing {
		c.pricing[strings.ToLower(providerName)] = append([]ModelPricing(nil), models...)
	}
	return c
}

// Calculate returns the cost for the given provider, model, and token counts.
// Returns 0 if the provider or model is not found in the pricing data.
func (c *Calculator) Calculate(provider, model string, inputTokens, outputTokens int) float64 {
	pricing, ok := c.findPricing(provider, model)
	if !ok {
		return 0
	}

	inputCost := float64(inputTokens) / 1000.0 * pricing.InputCostPer1K
	outputCost := float64(outputTokens) / 1000.0 * pricing.OutputCostPer1K

	return inputCost + outputCost
}

// AddPricing adds or updates pricing for a provider's model pattern.
func (c *Calculator) AddPricing(provider string, pricing ModelPricing) {
	provider = strings.ToLower(provider)
	models := c.pricing[provider]

	for i, p := range models {
		if strings.EqualFold(p.Model, pricing.Model) {
			models[i] = pricing
			return
		}
	}
	c.pricing[provider] = append(models, pricing)
}

// GetPricing retrieves the effective pricing for a provider and model.
func (c *Calculator) GetPricing(provider, model string) (ModelPricing, bool) {
	return c.findPricing(provider, model)
}

// findPricing finds the pricing for a model within a provider's table.
// Tries exact match first, then the longest matching wildcard prefix.
func (c *Calculator) findPricing(provider, model string) (ModelPricing, bool) {
	models, ok := c.pricing[strings.ToLower(provider)]
	if !ok {
		return ModelPricing{}, false
	}

	modelLower := strings.ToLower(model)

	for _, p := range models {
		if strings.EqualFold(p.Model, model) {
			return p, true
		}
	}

	var bestMatch *ModelPricing
	bestMatchLen := -1

	for i := range models {
		pattern := models[i].Model
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.ToLower(strings.TrimSuffix(pattern, "*"))
		if strings.HasPrefix(modelLower, prefix) && len(prefix) > bestMatchLen {
			bestMatch = &models[i]
			bestMatchLen = len(prefix)
		}
	}

	if bestMatch != nil {
		return *bestMatch, true
	}
	return ModelPricing{}, false
}
