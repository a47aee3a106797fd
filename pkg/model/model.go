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

// Package model defines the contract every chat model implementation must
// satisfy.
//
// A ChatModel streams frames: each frame carries a partial canonical
// message (a text delta, a completed tool call) plus whatever finish
// reason, usage and metadata the provider has reported so far. The
// orchestrator folds frames into one consolidated message; providers never
// see the loop and the loop never sees a provider wire format.
//
// Design principles:
//   - Single SendStream method; non-streaming callers drain the iterator.
//   - iter.Seq2 for lazy, cancelable sequences. Returning false from yield
//     must abort the underlying HTTP stream.
//   - Providers emit tool calls exactly once, with complete arguments and
//     a non-empty ID (synthesized when the wire omits one).
package model

import (
	"context"
	"fmt"
	"iter"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// ChatModel is a conversational model bound to one provider and model name.
type ChatModel interface {
	// Name returns the model identifier (e.g. "gpt-4o").
	Name() string

	// SendStream opens a streaming request and yields response frames.
	// The iterator ends when the provider closes the stream or the
	// consumer stops. Errors yielded are terminal for the request.
	SendStream(ctx context.Context, req *Request) iter.Seq2[*Response, error]

	// Close releases any resources held by the model.
	Close() error
}

// Request contains the input for one model call.
type Request struct {
	// Messages is the conversation history, system message included.
	// Mappers split the system message out per provider convention.
	Messages []*chat.Message

	// Tools available for the model to call.
	Tools []tool.Definition

	// Options contains generation configuration.
	Options *Options
}

// Options contains generation configuration.
type Options struct {
	// Temperature controls randomness (0-2).
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens *int

	// TopP controls nucleus sampling.
	TopP *float64

	// TopK controls top-k sampling.
	TopK *int

	// StopSequences terminates generation.
	StopSequences []string

	// ResponseMIMEType for structured output (e.g. "application/json").
	ResponseMIMEType string

	// ResponseSchema constrains output to a JSON schema (typed output).
	ResponseSchema map[string]any

	// ResponseSchemaName identifies the schema for providers that require
	// it (OpenAI json_schema format). Default: "response".
	ResponseSchemaName string
}

// Clone creates a deep copy of the Options. Requests share nothing, so the
// orchestrator can adjust options per iteration without cross-talk.
func (o *Options) Clone() *Options {
	if o == nil {
		return nil
	}

	clone := *o

	if o.Temperature != nil {
		temp := *o.Temperature
		clone.Temperature = &temp
	}
	if o.MaxTokens != nil {
		maxTok := *o.MaxTokens
		clone.MaxTokens = &maxTok
	}
	if o.TopP != nil {
		topP := *o.TopP
		clone.TopP = &topP
	}
	if o.TopK != nil {
		topK := *o.TopK
		clone.TopK = &topK
	}
	if o.StopSequences != nil {
		clone.StopSequences = make([]string, len(o.StopSequences))
		copy(clone.StopSequences, o.StopSequences)
	}
	if o.ResponseSchema != nil {
		clone.ResponseSchema = deepCopyMap(o.ResponseSchema)
	}

	return &clone
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			result[k] = deepCopyMap(val)
		case []any:
			result[k] = deepCopySlice(val)
		default:
			result[k] = v
		}
	}
	return result
}

func deepCopySlice(s []any) []any {
	if s == nil {
		return nil
	}
	result := make([]any, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]any:
			result[i] = deepCopyMap(val)
		case []any:
			result[i] = deepCopySlice(val)
		default:
			result[i] = v
		}
	}
	return result
}

// Response is one frame of a model stream.
type Response struct {
	// Message is the partial canonical message carried by this frame.
	// May be nil for frames that only report usage or a finish reason.
	Message *chat.Message

	// FinishReason is set once the provider reports why the stream ended.
	FinishReason chat.FinishReason

	// Usage statistics, when the provider reports them.
	Usage *chat.Usage

	// Metadata carries provider-specific extras (response IDs, thinking
	// summaries). Preserved on the consolidated message.
	Metadata map[string]any

	// ID identifies the provider response, when reported.
	ID string
}

// Text returns the concatenated text of the frame's message parts.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return r.Message.Text()
}

// ProtocolError reports a malformed or unexpected provider response.
type ProtocolError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Drain consumes a stream to completion, returning the frames in order.
// Used by non-streaming call sites and tests.
func Drain(seq iter.Seq2[*Response, error]) ([]*Response, error) {
	var frames []*Response
	for resp, err := range seq {
		if err != nil {
			return frames, err
		}
		if resp != nil {
			frames = append(frames, resp)
		}
	}
	return frames, nil
}

// Lister is implemented by models whose provider exposes model listing.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}
