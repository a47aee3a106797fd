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

// Package config provides the process-local environment map and env-var
// expansion used for API-key resolution.
//
// Resolution precedence, highest first: explicit constructor parameter,
// Environment map, OS environment variable named by the provider. Local
// providers with no key name resolve to empty without error.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Environment is a process-local variable map consulted before the OS
// environment. Written at startup, read thereafter.
type Environment struct {
	mu   sync.RWMutex
	vars map[string]string
}

// NewEnvironment creates an empty environment.
func NewEnvironment() *Environment {
	return &Environment{vars: make(map[string]string)}
}

// Set stores a variable.
func (e *Environment) Set(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[name] = value
}

// Lookup returns the variable and whether it was set.
func (e *Environment) Lookup(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	value, ok := e.vars[name]
	return value, ok
}

// Get returns the variable or "".
func (e *Environment) Get(name string) string {
	value, _ := e.Lookup(name)
	return value
}

// ResolveAPIKey applies the configuration precedence: explicit value,
// environment map, OS environment. Empty when nothing matches or the
// provider declares no key name.
func ResolveAPIKey(explicit string, env *Environment, apiKeyName string) string {
	if explicit != "" {
		return explicit
	}
	if apiKeyName == "" {
		return ""
	}
	if value, ok := env.Lookup(apiKeyName); ok && value != "" {
		return value
	}
	return os.Getenv(apiKeyName)
}

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

// ExpandEnv expands ${VAR}, ${VAR:-default} and $VAR references using the
// environment map first, then the OS environment.
func ExpandEnv(s string, env *Environment) string {
	if !strings.Contains(s, "$") {
		return s
	}

	lookup := func(name string) string {
		if value, ok := env.Lookup(name); ok {
			return value
		}
		return os.Getenv(name)
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := lookup(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return lookup(parts[1])
		}
		return match
	})

	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) == 2 {
			return lookup(parts[1])
		}
		return match
	})

	return s
}

// LoadEnvFiles loads .env.local and .env into the OS environment when
// present. Missing files are not errors.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}
