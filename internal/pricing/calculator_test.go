package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateExactMatch(t *testing.T) {
	c := NewCalculator(nil)

	// gpt-4o: 0.005 in, 0.015 out per 1K
	cost := c.Calculate("openai", "gpt-4o", 1000, 1000)
	assert.InDelta(t, 0.020, cost, 1e-9)
}

func TestCalculateWildcardMatch(t *testing.T) {
	c := NewCalculator(nil)

	// Dated model names match the claude-3-haiku* pattern
	cost := c.Calculate("anthropic", "claude-3-haiku-20240307", 10000, 2000)
	assert.InDelta(t, 10*0.00025+2*0.00125, cost, 1e-9)
}

func TestCalculateLongestWildcardWins(t *testing.T) {
	c := NewCalculator(nil)

	// gpt-4-turbo-2024 must match gpt-4-turbo*, not the broader gpt-4*
	cost := c.Calculate("openai", "gpt-4-turbo-2024-04-09", 1000, 0)
	assert.InDelta(t, 0.01, cost, 1e-9)
}

func TestCalculateUnknownModel(t *testing.T) {
	c := NewCalculator(nil)

	assert.Zero(t, c.Calculate("openai", "some-future-model", 1000, 1000))
}

func TestCalculateUnknownProvider(t *testing.T) {
	c := NewCalculator(nil)

	assert.Zero(t, c.Calculate("nonexistent", "gpt-4o", 1000, 1000))
}

func TestCalculateLocalModelsFree(t *testing.T) {
	c := NewCalculator(nil)

	assert.Zero(t, c.Calculate("ollama", "llama3.2", 50000, 50000))
	assert.Zero(t, c.Calculate("ollama", "mistral", 1000, 1000))
}

func TestCalculateZeroTokens(t *testing.T) {
	c := NewCalculator(nil)

	assert.Zero(t, c.Calculate("openai", "gpt-4o", 0, 0))
}

func TestCalculateCaseInsensitive(t *testing.T) {
	c := NewCalculator(nil)

	lower := c.Calculate("openai", "gpt-4o", 1000, 1000)
	upper := c.Calculate("OpenAI", "GPT-4o", 1000, 1000)
	assert.Equal(t, lower, upper)
}

func TestAddPricingOverride(t *testing.T) {
	c := NewCalculator(nil)

	c.AddPricing("openai", ModelPricing{
		Model:           "gpt-4o",
		InputCostPer1K:  0.001,
		OutputCostPer1K: 0.002,
	})

	cost := c.Calculate("openai", "gpt-4o", 1000, 1000)
	assert.InDelta(t, 0.003, cost, 1e-9)
}

func TestAddPricingNewProvider(t *testing.T) {
	c := NewCalculator(nil)

	c.AddPricing("groq", ModelPricing{
		Model:           "llama-3.1*",
		InputCostPer1K:  0.00005,
		OutputCostPer1K: 0.00008,
	})

	cost := c.Calculate("groq", "llama-3.1-70b", 1000, 1000)
	assert.InDelta(t, 0.00013, cost, 1e-9)
}

func TestAddPricingDoesNotMutateDefaults(t *testing.T) {
	c := NewCalculator(nil)

	c.AddPricing("openai", ModelPricing{
		Model:           "gpt-4o",
		InputCostPer1K:  9.99,
		OutputCostPer1K: 9.99,
	})

	// A second calculator built from the shared defaults must not see
	// the first calculator's override.
	fresh := NewCalculator(nil)
	cost := fresh.Calculate("openai", "gpt-4o", 1000, 1000)
	assert.InDelta(t, 0.020, cost, 1e-9)

	p := DefaultPricing["openai"][0]
	assert.Equal(t, 0.005, p.InputCostPer1K)
}

func TestGetPricing(t *testing.T) {
	c := NewCalculator(nil)

	p, ok := c.GetPricing("anthropic", "claude-3-5-sonnet-20241022")
	assert.True(t, ok)
	assert.Equal(t, "claude-3-5-sonnet*", p.Model)

	_, ok = c.GetPricing("anthropic", "not-a-claude")
	assert.False(t, ok)
}

func TestBedrockPrefixedModels(t *testing.T) {
	c := NewCalculator(nil)

	cost := c.Calculate("bedrock", "anthropic.claude-3-haiku-20240307-v1:0", 1000, 1000)
	assert.InDelta(t, 0.00025+0.00125, cost, 1e-9)
}
