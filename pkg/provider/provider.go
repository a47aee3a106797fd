// Copyright 2026 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package provider holds the static provider table: names, aliases,
// API-key sources, capability declarations and model factories.
//
// Capabilities are informational. Nothing here enforces them; callers use
// them for feature detection and the typed-output orchestrator uses them
// to pick a strategy.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/embedder"
	"github.com/kadirpekel/maestro/pkg/model"
)

// Capability tags a provider feature.
type Capability string

const (
	CapabilityChat                 Capability = "chat"
	CapabilityEmbeddings           Capability = "embeddings"
	CapabilityMultiToolCalls       Capability = "multiToolCalls"
	CapabilityTypedOutput          Capability = "typedOutput"
	CapabilityTypedOutputWithTools Capability = "typedOutputWithTools"
	CapabilityVision               Capability = "vision"
)

// ModelConfig carries per-model construction parameters. Zero values fall
// back to provider defaults.
type ModelConfig struct {
	// APIKey overrides environment resolution.
	APIKey string

	// Model name; empty uses the provider default for the model kind.
	Model string

	// BaseURL overrides the provider endpoint.
	BaseURL string

	// MaxTokens limits response length.
	MaxTokens int

	// Temperature controls randomness.
	Temperature *float64

	// Timeout for HTTP requests.
	Timeout time.Duration

	// ExtraHeaders added to every request.
	ExtraHeaders map[string]string

	// Environment is the process-local variable map consulted before the
	// OS environment during API-key resolution.
	Environment *config.Environment
}

// Provider is a named backend: capability set, default models and
// factories.
type Provider struct {
	// Name is the canonical lowercase identifier.
	Name string

	// DisplayName is the human-readable label.
	DisplayName string

	// Aliases resolve to this provider (e.g. claude, gemini).
	Aliases []string

	// APIKeyName is the environment variable holding the key. Empty for
	// local providers that need none.
	APIKeyName string

	// BaseURL is the default endpoint, when the factory needs one.
	BaseURL string

	// DefaultChatModel and DefaultEmbeddingsModel are used when the
	// caller does not name a model.
	DefaultChatModel       string
	DefaultEmbeddingsModel string

	// Capabilities declared by the provider.
	Capabilities []Capability

	newChatModel func(p *Provider, cfg ModelConfig, apiKey string) (model.ChatModel, error)
	newEmbedder  func(p *Provider, cfg ModelConfig, apiKey string) (embedder.Embedder, error)
}

// Has reports whether the provider declares a capability.
func (p *Provider) Has(cap Capability) bool {
	for _, c := range p.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// HasAll reports whether the provider declares every given capability.
func (p *Provider) HasAll(caps ...Capability) bool {
	for _, c := range caps {
		if !p.Has(c) {
			return false
		}
	}
	return true
}

// NewChatModel constructs a chat model, resolving the API key with the
// configuration precedence. Key resolution failures surface here, never
// at agent construction.
func (p *Provider) NewChatModel(cfg ModelConfig) (model.ChatModel, error) {
	if p.newChatModel == nil {
		return nil, &ConfigurationError{Provider: p.Name, Message: "chat models not supported"}
	}
	apiKey, err := p.resolveAPIKey(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = p.DefaultChatModel
	}
	return p.newChatModel(p, cfg, apiKey)
}

// NewEmbedder constructs an embeddings model.
func (p *Provider) NewEmbedder(cfg ModelConfig) (embedder.Embedder, error) {
	if p.newEmbedder == nil {
		return nil, &ConfigurationError{Provider: p.Name, Message: "embeddings not supported"}
	}
	apiKey, err := p.resolveAPIKey(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = p.DefaultEmbeddingsModel
	}
	return p.newEmbedder(p, cfg, apiKey)
}

// ListModels lists the model IDs the provider's API advertises. Providers
// without a listing endpoint return a ConfigurationError.
func (p *Provider) ListModels(ctx context.Context, cfg ModelConfig) ([]string, error) {
	chatModel, err := p.NewChatModel(cfg)
	if err != nil {
		return nil, err
	}
	defer chatModel.Close()

	lister, ok := chatModel.(model.Lister)
	if !ok {
		return nil, &ConfigurationError{Provider: p.Name, Message: "model listing not supported"}
	}
	return lister.ListModels(ctx)
}

func (p *Provider) resolveAPIKey(cfg ModelConfig) (string, error) {
	apiKey := config.ResolveAPIKey(cfg.APIKey, cfg.Environment, p.APIKeyName)
	if apiKey == "" && p.APIKeyName != "" {
		return "", &ConfigurationError{
			Provider: p.Name,
			Message:  fmt.Sprintf("missing API key: set %s or pass it explicitly", p.APIKeyName),
		}
	}
	return apiKey, nil
}

// ConfigurationError reports a misconfiguration: unknown provider, missing
// API key, invalid model string.
type ConfigurationError struct {
	Provider string
	Message  string
}

func (e *ConfigurationError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}
