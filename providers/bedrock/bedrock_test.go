package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincore/llmgate/pkg/provider"
)

func TestNewDefaults(t *testing.T) {
	p := New(aws.Config{Region: "us-east-1"}, "")
	assert.Equal(t, DefaultModel, p.Model())
	assert.Equal(t, ProviderName, p.Name())
	assert.Equal(t, "us-east-1", p.region)
}

func TestInvokePayloadShape(t *testing.T) {
	temp := 0.5
	payload := invokePayload{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        256,
		System:           "be terse",
		Temperature:      &temp,
		Messages: []invokeMessage{
			{Role: "user", Content: "hello"},
		},
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "bedrock-2023-05-31", decoded["anthropic_version"])
	assert.EqualValues(t, 256, decoded["max_tokens"])
	assert.Equal(t, "be terse", decoded["system"])
	assert.InDelta(t, 0.5, decoded["temperature"].(float64), 0.0001)
}

func TestInvokePayloadOmitsEmptyFields(t *testing.T) {
	payload := invokePayload{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        DefaultMaxTokens,
		Messages: []invokeMessage{
			{Role: "user", Content: "hello"},
		},
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	_, hasSystem := decoded["system"]
	_, hasTemp := decoded["temperature"]
	assert.False(t, hasSystem)
	assert.False(t, hasTemp)
}

func TestNewFromConfigRejectsBadKeyFormat(t *testing.T) {
	_, err := NewFromConfig(provider.Config{
		Type:   "bedrock",
		Region: "us-east-1",
		APIKey: "not-a-pair",
	})
	assert.Error(t, err)
}
