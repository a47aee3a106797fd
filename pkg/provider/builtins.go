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

package provider

import (
	"github.com/kadirpekel/maestro/pkg/embedder"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/model/anthropic"
	"github.com/kadirpekel/maestro/pkg/model/gemini"
	"github.com/kadirpekel/maestro/pkg/model/openai"
)

// newCompatChatModel builds a chat model on the chat-completions client.
// Every OpenAI-compatible provider in the table funnels through here.
func newCompatChatModel(requireKey bool) func(*Provider, ModelConfig, string) (model.ChatModel, error) {
	return func(p *Provider, cfg ModelConfig, apiKey string) (model.ChatModel, error) {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = p.BaseURL
		}
		return openai.New(openai.Config{
			APIKey:        apiKey,
			Model:         cfg.Model,
			BaseURL:       baseURL,
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
			Timeout:       cfg.Timeout,
			ExtraHeaders:  cfg.ExtraHeaders,
			ProviderName:  p.Name,
			RequireAPIKey: requireKey,
		})
	}
}

// newCompatEmbedder builds an embedder on the OpenAI embeddings client.
func newCompatEmbedder(p *Provider, cfg ModelConfig, apiKey string) (embedder.Embedder, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = p.BaseURL
	}
	return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
		APIKey:       apiKey,
		BaseURL:      baseURL,
		Model:        cfg.Model,
		Timeout:      cfg.Timeout,
		ProviderName: p.Name,
	})
}

func builtins() []*Provider {
	return []*Provider{
		{
			Name:                   "openai",
			DisplayName:            "OpenAI",
			APIKeyName:             "OPENAI_API_KEY",
			DefaultChatModel:       "gpt-4o",
			DefaultEmbeddingsModel: "text-embedding-3-small",
			Capabilities: []Capability{
				CapabilityChat, CapabilityEmbeddings, CapabilityMultiToolCalls,
				CapabilityTypedOutput, CapabilityTypedOutputWithTools, CapabilityVision,
			},
			newChatModel: newCompatChatModel(true),
			newEmbedder:  newCompatEmbedder,
		},
		{
			Name:             "anthropic",
			DisplayName:      "Anthropic",
			Aliases:          []string{"claude"},
			APIKeyName:       "ANTHROPIC_API_KEY",
			DefaultChatModel: "claude-sonnet-4-20250514",
			Capabilities: []Capability{
				CapabilityChat, CapabilityMultiToolCalls, CapabilityVision,
			},
			newChatModel: func(p *Provider, cfg ModelConfig, apiKey string) (model.ChatModel, error) {
				return anthropic.New(anthropic.Config{
					APIKey:      apiKey,
					Model:       cfg.Model,
					BaseURL:     cfg.BaseURL,
					MaxTokens:   cfg.MaxTokens,
					Temperature: cfg.Temperature,
					Timeout:     cfg.Timeout,
				})
			},
		},
		{
			Name:             "google",
			DisplayName:      "Google Gemini",
			Aliases:          []string{"gemini"},
			APIKeyName:       "GEMINI_API_KEY",
			DefaultChatModel: "gemini-2.0-flash",
			Capabilities: []Capability{
				CapabilityChat, CapabilityMultiToolCalls,
				CapabilityTypedOutput, CapabilityVision,
			},
			newChatModel: func(p *Provider, cfg ModelConfig, apiKey string) (model.ChatModel, error) {
				return gemini.New(gemini.Config{
					APIKey:      apiKey,
					Model:       cfg.Model,
					MaxTokens:   cfg.MaxTokens,
					Temperature: cfg.Temperature,
				})
			},
		},
		{
			Name:             "openrouter",
			DisplayName:      "OpenRouter",
			APIKeyName:       "OPENROUTER_API_KEY",
			BaseURL:          "https://openrouter.ai/api/v1",
			DefaultChatModel: "openai/gpt-4o",
			Capabilities: []Capability{
				CapabilityChat, CapabilityMultiToolCalls,
				CapabilityTypedOutput, CapabilityTypedOutputWithTools, CapabilityVision,
			},
			newChatModel: newCompatChatModel(true),
		},
		{
			Name:                   "together",
			DisplayName:            "Together AI",
			APIKeyName:             "TOGETHER_API_KEY",
			BaseURL:                "https://api.together.xyz/v1",
			DefaultChatModel:       "meta-llama/Llama-3.3-70B-Instruct-Turbo",
			DefaultEmbeddingsModel: "BAAI/bge-large-en-v1.5",
			Capabilities: []Capability{
				CapabilityChat, CapabilityEmbeddings, CapabilityMultiToolCalls,
				CapabilityTypedOutput,
			},
			newChatModel: newCompatChatModel(true),
			newEmbedder:  newCompatEmbedder,
		},
		{
			Name:                   "mistral",
			DisplayName:            "Mistral AI",
			APIKeyName:             "MISTRAL_API_KEY",
			BaseURL:                "https://api.mistral.ai/v1",
			DefaultChatModel:       "mistral-large-latest",
			DefaultEmbeddingsModel: "mistral-embed",
			Capabilities: []Capability{
				CapabilityChat, CapabilityEmbeddings, CapabilityMultiToolCalls,
				CapabilityTypedOutput, CapabilityTypedOutputWithTools,
			},
			newChatModel: newCompatChatModel(true),
			newEmbedder:  newCompatEmbedder,
		},
		{
			Name:                   "cohere",
			DisplayName:            "Cohere",
			APIKeyName:             "COHERE_API_KEY",
			BaseURL:                "https://api.cohere.ai/compatibility/v1",
			DefaultChatModel:       "command-r-plus",
			DefaultEmbeddingsModel: "embed-english-v3.0",
			Capabilities: []Capability{
				CapabilityChat, CapabilityEmbeddings, CapabilityMultiToolCalls,
			},
			newChatModel: newCompatChatModel(true),
			newEmbedder: func(p *Provider, cfg ModelConfig, apiKey string) (embedder.Embedder, error) {
				// Cohere embeddings use the native v2 API, not the
				// compatibility endpoint.
				return embedder.NewCohereEmbedder(embedder.CohereConfig{
					APIKey:  apiKey,
					Model:   cfg.Model,
					Timeout: cfg.Timeout,
				})
			},
		},
		{
			Name:                   "ollama",
			DisplayName:            "Ollama",
			BaseURL:                "http://localhost:11434/v1",
			DefaultChatModel:       "llama3.2",
			DefaultEmbeddingsModel: "nomic-embed-text",
			Capabilities: []Capability{
				CapabilityChat, CapabilityEmbeddings, CapabilityMultiToolCalls,
				CapabilityTypedOutput,
			},
			newChatModel: newCompatChatModel(false),
			newEmbedder: func(p *Provider, cfg ModelConfig, apiKey string) (embedder.Embedder, error) {
				baseURL := cfg.BaseURL
				if baseURL == "" {
					baseURL = "http://localhost:11434"
				}
				return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
					BaseURL: baseURL,
					Model:   cfg.Model,
					Timeout: cfg.Timeout,
				})
			},
		},
	}
}
