// Package providers provides a unified registry for all provider
// implementations, so the router can create providers from configuration.
package providers

import (
	"fmt"
	"sync"

	"github.com/fincore/llmgate/pkg/provider"
	"github.com/fincore/llmgate/providers/anthropic"
	"github.com/fincore/llmgate/providers/bedrock"
	"github.com/fincore/llmgate/providers/ollama"
	"github.com/fincore/llmgate/providers/openai"
)

var (
	registry     = make(map[string]provider.Factory)
	registryOnce sync.Once
	registryMu   sync.RWMutex
)

// Register registers a provider factory with the given type name.
func Register(providerType string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = factory
}

// Get returns the factory for the given provider type.
func Get(providerType string) (provider.Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[providerType]
	return f, ok
}

// Create creates a provider instance from configuration.
func Create(cfg provider.Config) (provider.Provider, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (available: %v)", cfg.Type, List())
	}

	return factory(cfg)
}

// List returns all registered provider type names.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// RegisterBuiltins registers all built-in provider factories.
// This is called automatically on first use.
func RegisterBuiltins() {
	registryOnce.Do(func() {
		Register("anthropic", anthropic.NewFromConfig)
		Register("openai", openai.NewFromConfig)
		Register("ollama", ollama.NewFromConfig)
		Register("bedrock", bedrock.NewFromConfig)
	})
}

func init() {
	RegisterBuiltins()
}
