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

// Package tool defines tools the model can invoke, their execution, and the
// identity bookkeeping that pairs tool calls with tool results.
//
// A Tool is looked up by name, invoked with a JSON-object argument map, and
// returns an arbitrary JSON-serializable result. Failures are surfaced to
// the model as structured error results, never as Go errors: the model sees
// the error text and decides whether to retry or give up.
package tool

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/maestro/pkg/schema"
)

// Tool is a capability the model can invoke by name.
type Tool interface {
	// Name returns the unique name of the tool within an agent's tool set.
	Name() string

	// Description tells the model what the tool does and when to use it.
	Description() string

	// InputSchema describes the argument object. Nil means no parameters.
	InputSchema() *schema.Schema

	// Call executes the tool. The result must be JSON-serializable.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Definition is the wire-level tool descriptor handed to provider mappers.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Describe converts a Tool into its wire-level definition.
func Describe(t Tool) (Definition, error) {
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
	}
	if s := t.InputSchema(); s != nil {
		params, err := s.ToMap()
		if err != nil {
			return Definition{}, fmt.Errorf("tool %q: %w", t.Name(), err)
		}
		def.Parameters = params
	}
	return def, nil
}

// Map indexes tools by name. It is an immutable snapshot for the duration
// of one request.
type Map map[string]Tool

// NewMap builds a tool map, rejecting duplicate names.
func NewMap(tools ...Tool) (Map, error) {
	m := make(Map, len(tools))
	for _, t := range tools {
		if t.Name() == "" {
			return nil, fmt.Errorf("tool name cannot be empty")
		}
		if _, exists := m[t.Name()]; exists {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name())
		}
		m[t.Name()] = t
	}
	return m, nil
}

// Definitions returns the wire-level definitions of the given tools,
// preserving order.
func Definitions(tools []Tool) ([]Definition, error) {
	defs := make([]Definition, 0, len(tools))
	for _, t := range tools {
		def, err := Describe(t)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// funcTool adapts a plain function into a Tool.
type funcTool struct {
	name        string
	description string
	inputSchema *schema.Schema
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// New creates a tool from a function taking a raw argument map.
func New(name, description string, inputSchema *schema.Schema, fn func(ctx context.Context, args map[string]any) (any, error)) Tool {
	return &funcTool{
		name:        name,
		description: description,
		inputSchema: inputSchema,
		fn:          fn,
	}
}

func (t *funcTool) Name() string                { return t.name }
func (t *funcTool) Description() string         { return t.description }
func (t *funcTool) InputSchema() *schema.Schema { return t.inputSchema }

func (t *funcTool) Call(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

// NewTyped creates a tool whose arguments are decoded into Args. The input
// schema is derived from Args by reflection.
func NewTyped[Args any](name, description string, fn func(ctx context.Context, args Args) (any, error)) (Tool, error) {
	inputSchema, err := schema.For[Args]()
	if err != nil {
		return nil, fmt.Errorf("tool %q: failed to derive input schema: %w", name, err)
	}
	return New(name, description, inputSchema, func(ctx context.Context, raw map[string]any) (any, error) {
		var args Args
		if err := DecodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return fn(ctx, args)
	}), nil
}

// DecodeArgs decodes a raw argument map into a typed struct using json
// field names. Numeric JSON values decode weakly so "5" and 5.0 both fill
// an int field.
func DecodeArgs(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to build argument decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}
