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
	"net/url"
	"strings"
)

// ModelRef is a parsed model string.
type ModelRef struct {
	// Provider is the lowercased provider name or alias, unresolved.
	Provider string

	// ChatModel, EmbeddingsModel and OtherModel name specific models.
	// Empty fields fall back to provider defaults.
	ChatModel       string
	EmbeddingsModel string
	OtherModel      string
}

// ParseModelString parses the model-string grammar:
//
//	model := provider
//	       | provider ':' name
//	       | provider '/' path
//	       | provider '?' query
//	query := kv ('&' kv)*
//	kv    := ('chat'|'embeddings'|'other') '=' value
//
// Examples: "openai", "openai:gpt-4o", "openrouter/openai/gpt-4o",
// "openai?chat=gpt-4o&embeddings=text-embedding-3-large".
func ParseModelString(s string) (*ModelRef, error) {
	if s == "" {
		return nil, &ConfigurationError{Message: "empty model string"}
	}

	sep := strings.IndexAny(s, ":/?")
	if sep == -1 {
		return &ModelRef{Provider: strings.ToLower(s)}, nil
	}

	providerName := strings.ToLower(s[:sep])
	rest := s[sep+1:]
	if providerName == "" {
		return nil, &ConfigurationError{Message: "model string has no provider: " + s}
	}

	ref := &ModelRef{Provider: providerName}

	switch s[sep] {
	case ':', '/':
		if rest == "" {
			return nil, &ConfigurationError{Provider: providerName, Message: "model string names no model: " + s}
		}
		ref.ChatModel = rest

	case '?':
		values, err := url.ParseQuery(rest)
		if err != nil {
			return nil, &ConfigurationError{Provider: providerName, Message: "invalid model query: " + rest}
		}
		for key := range values {
			switch key {
			case "chat":
				ref.ChatModel = values.Get(key)
			case "embeddings":
				ref.EmbeddingsModel = values.Get(key)
			case "other":
				ref.OtherModel = values.Get(key)
			default:
				return nil, &ConfigurationError{Provider: providerName, Message: "unknown model query key: " + key}
			}
		}
	}

	return ref, nil
}
