// Package llm provides the external decision procedure used by arbitration:
// a provider-agnostic client that turns a prompt into a (possibly
// structured) model response.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ResponseFormat selects the output shape requested from the provider.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// ErrEmptyResponse is returned when the provider answered without content.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is a single invocation of the decision procedure.
type Request struct {
	Prompt string
	Format ResponseFormat
	// System overrides the client's configured system prompt when set.
	System string
}

// Client is the decision procedure boundary: invoke(prompt, format).
type Client interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// FactoryConfig captures the inputs required to construct a provider client.
type FactoryConfig struct {
	Provider string

	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int

	APIKey  string
	BaseURL string

	// Script feeds the "scripted" provider.
	Script []string
}

// ProviderFactory implements provider-specific Client creation.
type ProviderFactory func(FactoryConfig) (Client, error)

var (
	mu         sync.RWMutex
	providers  = map[string]ProviderFactory{}
	defaultKey = "openai"
)

// RegisterProvider registers a provider factory under one or more names.
func RegisterProvider(name string, factory ProviderFactory, aliases ...string) {
	mu.Lock()
	defer mu.Unlock()

	all := append([]string{name}, aliases...)
	for _, n := range all {
		providers[strings.ToLower(n)] = factory
	}
}

// Providers lists the registered provider names.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewClient returns the client registered for cfg.Provider.
func NewClient(cfg FactoryConfig) (Client, error) {
	providerName := cfg.Provider
	if strings.TrimSpace(providerName) == "" {
		providerName = defaultKey
	}

	mu.RLock()
	factory := providers[strings.ToLower(strings.TrimSpace(providerName))]
	mu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("llm: provider %q not registered", providerName)
	}
	return factory(cfg)
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func orInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

const jsonOnlyInstruction = "Respond with a single JSON object and nothing else. Do not wrap it in markdown."
