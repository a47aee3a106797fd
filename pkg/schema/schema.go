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

// Package schema wraps the JSON Schema draft 2020-12 subset used for tool
// parameters and typed output.
//
// The subset covers object/array/string/number/integer/boolean with
// properties, required, enum, description, nullable, format and $ref/$defs.
// Provider mappers consume the map form; Gemini additionally requires the
// resolved (ref-free) form with explicit nullable flags.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Schema is a JSON Schema node.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Format               string             `json:"format,omitempty"`
	Nullable             bool               `json:"nullable,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
	Ref                  string             `json:"$ref,omitempty"`
	Defs                 map[string]*Schema `json:"$defs,omitempty"`
}

// Object builds an object schema from properties and a required list.
func Object(properties map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: properties, Required: required}
}

// String builds a string schema with a description.
func String(description string) *Schema {
	return &Schema{Type: "string", Description: description}
}

// Number builds a number schema with a description.
func Number(description string) *Schema {
	return &Schema{Type: "number", Description: description}
}

// For derives a schema from a Go type by reflection.
//
// Struct tags follow invopop/jsonschema conventions: `json` names the
// property, `jsonschema:"description=..."` documents it. The returned
// schema is resolved (no $ref remains).
func For[T any]() (*Schema, error) {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	reflected := reflector.Reflect(new(T))

	data, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reflected schema: %w", err)
	}

	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode reflected schema: %w", err)
	}
	return s.Resolve()
}

// FromMap decodes a raw schema map into a Schema.
func FromMap(m map[string]any) (*Schema, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema map: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode schema map: %w", err)
	}
	return &s, nil
}

// ToMap converts the schema to its raw map form for provider mappers.
func (s *Schema) ToMap() (map[string]any, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	return m, nil
}

// Resolve inlines every $ref through the root's $defs and returns a
// ref-free copy. A required property is marked non-nullable.
func (s *Schema) Resolve() (*Schema, error) {
	if s == nil {
		return nil, nil
	}
	resolved, err := s.resolve(s.Defs, map[string]bool{})
	if err != nil {
		return nil, err
	}
	resolved.Defs = nil
	return resolved, nil
}

func (s *Schema) resolve(defs map[string]*Schema, visiting map[string]bool) (*Schema, error) {
	if s.Ref != "" {
		name := strings.TrimPrefix(s.Ref, "#/$defs/")
		if name == s.Ref {
			return nil, fmt.Errorf("unsupported $ref %q: only #/$defs/ references are supported", s.Ref)
		}
		if visiting[name] {
			return nil, fmt.Errorf("cyclic $ref %q", s.Ref)
		}
		target, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("unresolved $ref %q", s.Ref)
		}
		visiting[name] = true
		resolved, err := target.resolve(defs, visiting)
		delete(visiting, name)
		if err != nil {
			return nil, err
		}
		// Local description overrides the definition's.
		if s.Description != "" {
			clone := *resolved
			clone.Description = s.Description
			return &clone, nil
		}
		return resolved, nil
	}

	out := *s
	out.Ref = ""

	if s.Properties != nil {
		required := make(map[string]bool, len(s.Required))
		for _, name := range s.Required {
			required[name] = true
		}
		out.Properties = make(map[string]*Schema, len(s.Properties))
		for name, prop := range s.Properties {
			resolved, err := prop.resolve(defs, visiting)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			if required[name] && resolved.Nullable {
				clone := *resolved
				clone.Nullable = false
				resolved = &clone
			}
			out.Properties[name] = resolved
		}
	}

	if s.Items != nil {
		resolved, err := s.Items.resolve(defs, visiting)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		out.Items = resolved
	}

	return &out, nil
}

// JSON renders the schema as compact JSON. Used for logging and for the
// typed-output validator.
func (s *Schema) JSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(data), nil
}
