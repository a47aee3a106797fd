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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds providers by canonical name and resolves aliases.
// Process-wide and read-mostly: dynamic registration is supported but
// expected at startup, not per request.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	aliases   map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*Provider),
		aliases:   make(map[string]string),
	}
}

// Register adds a provider under its name and aliases.
func (r *Registry) Register(p *Provider) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(p.Name)
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	if canonical, exists := r.aliases[name]; exists {
		return fmt.Errorf("provider name %q conflicts with an alias of %q", name, canonical)
	}

	for _, alias := range p.Aliases {
		alias = strings.ToLower(alias)
		if _, exists := r.providers[alias]; exists {
			return fmt.Errorf("alias %q conflicts with a registered provider", alias)
		}
		if canonical, exists := r.aliases[alias]; exists {
			return fmt.Errorf("alias %q already points to %q", alias, canonical)
		}
	}

	r.providers[name] = p
	for _, alias := range p.Aliases {
		r.aliases[strings.ToLower(alias)] = name
	}
	return nil
}

// Get returns the provider for a name or alias.
func (r *Registry) Get(name string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.ToLower(name)
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, &ConfigurationError{
			Provider: name,
			Message:  "unknown provider",
		}
	}
	return p, nil
}

// All returns every registered provider, sorted by name.
func (r *Registry) All() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Name < providers[j].Name
	})
	return providers
}

// AllWith returns the providers declaring every given capability,
// sorted by name.
func (r *Registry) AllWith(caps ...Capability) []*Provider {
	var matched []*Provider
	for _, p := range r.All() {
		if p.HasAll(caps...) {
			matched = append(matched, p)
		}
	}
	return matched
}

var defaultRegistry = func() *Registry {
	r := NewRegistry()
	for _, p := range builtins() {
		if err := r.Register(p); err != nil {
			panic(fmt.Sprintf("builtin provider table is inconsistent: %v", err))
		}
	}
	return r
}()

// Default returns the process-wide registry preloaded with the builtin
// providers.
func Default() *Registry {
	return defaultRegistry
}

// Get resolves a name or alias against the default registry.
func Get(name string) (*Provider, error) {
	return defaultRegistry.Get(name)
}

// All lists the default registry's providers.
func All() []*Provider {
	return defaultRegistry.All()
}

// AllWith filters the default registry's providers by capability.
func AllWith(caps ...Capability) []*Provider {
	return defaultRegistry.AllWith(caps...)
}
