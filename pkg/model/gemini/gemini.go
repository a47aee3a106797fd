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

// Package gemini implements model.ChatModel for Google Gemini models
// through the official google.golang.org/genai SDK.
//
// Gemini streams function calls with empty IDs; this client synthesizes
// stable IDs by hashing name plus arguments so the same call keeps the
// same ID across chunks, and strips synthesized IDs when replaying
// history back to the API.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/schema"
)

const (
	defaultModel = "gemini-2.0-flash"

	// Prefix marking call IDs this client invented. The API never sees
	// them again.
	syntheticIDPrefix = "fc_"
)

// Config configures the client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	TopK        *int
}

// Option configures the client.
type Option func(*Config)

// WithModel sets the model name.
func WithModel(name string) Option {
	return func(c *Config) {
		c.Model = name
	}
}

// WithMaxTokens sets the maximum output tokens.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) {
		c.MaxTokens = maxTokens
	}
}

// WithTemperature sets the temperature.
func WithTemperature(temp float64) Option {
	return func(c *Config) {
		c.Temperature = &temp
	}
}

// Client is a Gemini implementation of model.ChatModel.
type Client struct {
	client    *genai.Client
	modelName string
	config    Config
}

// New creates a new client.
func New(cfg Config, opts ...Option) (*Client, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &Client{
		client:    client,
		modelName: cfg.Model,
		config:    cfg,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// SendStream opens a streaming generation request.
func (c *Client) SendStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		contents, systemInstruction := c.buildContents(req.Messages)
		config := c.buildConfig(req, systemInstruction)

		state := &streamState{emittedCallIDs: make(map[string]bool)}

		for genResp, err := range c.client.Models.GenerateContentStream(ctx, c.modelName, contents, config) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini: streaming failed: %w", err))
				return
			}
			if !c.processChunk(state, genResp, yield) {
				return
			}
		}

		c.emitFinal(state, yield)
	}
}

// streamState accumulates tool calls and terminal metadata across SDK
// chunks. Gemini may repeat a function-call part in later chunks, so
// emitted IDs are tracked for deduplication.
type streamState struct {
	emittedCallIDs map[string]bool
	calls          []chat.ToolCallPart
	finish         chat.FinishReason
	usage          *chat.Usage
	responseID     string
}

// processChunk folds one SDK chunk into the state, yielding text deltas
// as they arrive. Returns false when the consumer stops.
func (c *Client) processChunk(state *streamState, genResp *genai.GenerateContentResponse, yield func(*model.Response, error) bool) bool {
	if genResp.ResponseID != "" {
		state.responseID = genResp.ResponseID
	}
	if genResp.UsageMetadata != nil {
		state.usage = &chat.Usage{
			PromptTokens:   int(genResp.UsageMetadata.PromptTokenCount),
			ResponseTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:    int(genResp.UsageMetadata.TotalTokenCount),
		}
	}

	if len(genResp.Candidates) == 0 {
		return true
	}
	candidate := genResp.Candidates[0]

	if candidate.FinishReason != "" {
		state.finish = mapFinishReason(candidate.FinishReason)
	}

	if candidate.Content == nil {
		return true
	}

	for _, part := range candidate.Content.Parts {
		if part.Text != "" && !part.Thought {
			resp := &model.Response{
				Message: chat.NewMessage(chat.RoleModel, chat.TextPart{Text: part.Text}),
				ID:      state.responseID,
			}
			if !yield(resp, nil) {
				return false
			}
		}

		if part.FunctionCall != nil {
			callID := part.FunctionCall.ID
			if callID == "" {
				callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
			}
			if state.emittedCallIDs[callID] {
				continue
			}
			state.emittedCallIDs[callID] = true

			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			state.calls = append(state.calls, chat.ToolCallPart{
				ID:   callID,
				Name: part.FunctionCall.Name,
				Args: args,
			})
		}
	}

	return true
}

// emitFinal yields the terminal frame with completed tool calls, finish
// reason and usage.
func (c *Client) emitFinal(state *streamState, yield func(*model.Response, error) bool) {
	resp := &model.Response{
		FinishReason: state.finish,
		Usage:        state.usage,
		ID:           state.responseID,
	}
	if resp.FinishReason == "" {
		resp.FinishReason = chat.FinishReasonStop
	}

	if len(state.calls) > 0 {
		parts := make([]chat.Part, 0, len(state.calls))
		for _, call := range state.calls {
			parts = append(parts, call)
		}
		resp.Message = chat.NewMessage(chat.RoleModel, parts...)
		resp.FinishReason = chat.FinishReasonToolCalls
	}

	yield(resp, nil)
}

// stableCallID derives a deterministic ID from the call name and
// arguments, so a call repeated across chunks maps to one ID.
func stableCallID(name string, args map[string]any) string {
	payload, _ := json.Marshal(map[string]any{"name": name, "args": args})
	hash := sha256.Sum256(payload)
	return fmt.Sprintf("%s%x", syntheticIDPrefix, hash[:16])
}

// buildContents converts canonical history to genai contents plus the
// optional system instruction.
func (c *Client) buildContents(messages []*chat.Message) ([]*genai.Content, *genai.Content) {
	system, history := chat.SplitSystem(messages)

	var systemInstruction *genai.Content
	if system != "" {
		systemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
			Role:  "user",
		}
	}

	var contents []*genai.Content
	for _, msg := range history {
		if content := messageToContent(msg); content != nil {
			contents = append(contents, content)
		}
	}
	return contents, systemInstruction
}

func messageToContent(msg *chat.Message) *genai.Content {
	var parts []*genai.Part

	for _, p := range msg.Parts {
		switch part := p.(type) {
		case chat.TextPart:
			if part.Text != "" {
				parts = append(parts, &genai.Part{Text: part.Text})
			}

		case chat.DataPart:
			mimeType := part.MIMEType
			if mimeType == "" {
				mimeType = chat.DetectImageMIMEType(part.Bytes)
			}
			if mimeType == "" {
				continue
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: mimeType,
					Data:     part.Bytes,
				},
			})

		case chat.LinkPart:
			parts = append(parts, &genai.Part{
				FileData: &genai.FileData{
					MIMEType: part.MIMEType,
					FileURI:  part.URI,
				},
			})

		case chat.ToolCallPart:
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   wireCallID(part.ID),
					Name: part.Name,
					Args: part.Args,
				},
			})

		case chat.ToolResultPart:
			response := map[string]any{}
			if part.IsError() {
				response["error"] = part.Error
			} else if m, ok := part.Result.(map[string]any); ok {
				response = m
			} else {
				response["result"] = part.Result
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       wireCallID(part.ID),
					Name:     part.Name,
					Response: response,
				},
			})
		}
	}

	if len(parts) == 0 {
		return nil
	}

	role := "user"
	if msg.Role == chat.RoleModel {
		role = "model"
	}
	return &genai.Content{Parts: parts, Role: role}
}

// wireCallID strips IDs the client synthesized; the API only recognizes
// IDs it issued itself.
func wireCallID(id string) string {
	if strings.HasPrefix(id, syntheticIDPrefix) || strings.HasPrefix(id, "call_") {
		return ""
	}
	return id
}

func (c *Client) buildConfig(req *model.Request, systemInstruction *genai.Content) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
	}

	if opts := req.Options; opts != nil {
		if opts.Temperature != nil {
			config.Temperature = genai.Ptr(float32(*opts.Temperature))
		}
		if opts.MaxTokens != nil {
			config.MaxOutputTokens = int32(*opts.MaxTokens)
		}
		if opts.TopP != nil {
			config.TopP = genai.Ptr(float32(*opts.TopP))
		}
		if opts.TopK != nil {
			config.TopK = genai.Ptr(float32(*opts.TopK))
		}
		if len(opts.StopSequences) > 0 {
			config.StopSequences = opts.StopSequences
		}
		if opts.ResponseMIMEType != "" {
			config.ResponseMIMEType = opts.ResponseMIMEType
		}
		if opts.ResponseSchema != nil {
			config.ResponseSchema = toGenaiSchema(opts.ResponseSchema)
			if config.ResponseMIMEType == "" {
				config.ResponseMIMEType = "application/json"
			}
		}
	}

	if config.Temperature == nil && c.config.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*c.config.Temperature))
	}
	if config.TopP == nil && c.config.TopP != nil {
		config.TopP = genai.Ptr(float32(*c.config.TopP))
	}
	if config.TopK == nil && c.config.TopK != nil {
		config.TopK = genai.Ptr(float32(*c.config.TopK))
	}
	if config.MaxOutputTokens == 0 && c.config.MaxTokens > 0 {
		config.MaxOutputTokens = int32(c.config.MaxTokens)
	}

	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, def := range req.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  toGenaiSchema(def.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	return config
}

// toGenaiSchema converts a JSON schema map to the SDK schema type. Any
// $ref is inlined through $defs first; the SDK type has no ref concept.
func toGenaiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	return walkSchema(resolveRefs(schemaMap))
}

// resolveRefs returns a ref-free copy of the schema map. Unresolvable
// references are reported and the map passes through untouched.
func resolveRefs(schemaMap map[string]any) map[string]any {
	s, err := schema.FromMap(schemaMap)
	if err != nil {
		return schemaMap
	}
	resolved, err := s.Resolve()
	if err != nil {
		slog.Warn("Failed to resolve schema references",
			"provider", "gemini",
			"error", err)
		return schemaMap
	}
	out, err := resolved.ToMap()
	if err != nil {
		return schemaMap
	}
	return out
}

// walkSchema translates one resolved node. Properties named in required
// are marked non-nullable.
func walkSchema(node map[string]any) *genai.Schema {
	if node == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := node["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := node["description"].(string); ok {
		s.Description = desc
	}
	if format, ok := node["format"].(string); ok {
		s.Format = format
	}

	var required []string
	if raw, ok := node["required"].([]any); ok {
		for _, r := range raw {
			if rs, ok := r.(string); ok {
				required = append(required, rs)
			}
		}
	} else if rs, ok := node["required"].([]string); ok {
		required = rs
	}
	s.Required = required

	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			propMap, ok := prop.(map[string]any)
			if !ok {
				continue
			}
			child := walkSchema(propMap)
			if isRequired(required, name) {
				child.Nullable = genai.Ptr(false)
			}
			s.Properties[name] = child
		}
	}

	if items, ok := node["items"].(map[string]any); ok {
		s.Items = walkSchema(items)
	}
	if enum, ok := node["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}

func isRequired(required []string, name string) bool {
	for _, r := range required {
		if r == name {
			return true
		}
	}
	return false
}

func mapFinishReason(reason genai.FinishReason) chat.FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return chat.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return chat.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return chat.FinishReasonContentFilter
	default:
		return chat.FinishReasonUnspecified
	}
}

var _ model.ChatModel = (*Client)(nil)
