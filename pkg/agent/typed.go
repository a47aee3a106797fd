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

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/schema"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// ReturnResultToolName is the synthetic tool injected for providers that
// cannot combine a native response schema with tool calling. The model
// "calls" it with the structured answer as arguments.
const ReturnResultToolName = "return_result"

// metadataSuppressedText holds text the model emitted alongside a
// return_result call. It is preserved for inspection, never re-emitted.
const metadataSuppressedText = "suppressedText"

// TypedOutputStreamingOrchestrator drives the loop when the caller supplied
// an output schema. Two strategies exist, chosen per provider:
//
//   - Native: the request carries a JSON-schema response format and the
//     consolidated text of the final model turn is the payload.
//   - Tool-based: a synthetic return_result tool is injected; the payload
//     is the arguments of the model's call to it, and the loop ends there
//     without re-dispatching the model.
//
// Either way the payload is validated against the schema before it is
// surfaced.
type TypedOutputStreamingOrchestrator struct {
	// Executor runs real tool batches. Defaults to SequentialExecutor.
	Executor tool.Executor

	// MaxIterations caps the loop. Zero means the default of 10.
	MaxIterations int

	// Schema constrains the output payload.
	Schema *schema.Schema

	// UseTool selects the return_result strategy.
	UseTool bool
}

// Run implements Orchestrator.
func (o *TypedOutputStreamingOrchestrator) Run(ctx context.Context, chatModel model.ChatModel, state *StreamingState) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		maxIter := o.MaxIterations
		if maxIter <= 0 {
			maxIter = defaultMaxIterations
		}

		if err := o.prepare(state); err != nil {
			yield(nil, err)
			return
		}

		for i := 0; i < maxIter; i++ {
			final, ok := streamOnce(ctx, chatModel, state, yield)
			if !ok {
				return
			}

			calls := registerCalls(state, final)
			if len(calls) == 0 {
				// The payload is the consolidated text, whichever
				// strategy was in effect.
				state.payload = final.Text()
				if err := ValidatePayload(state.payload, o.Schema); err != nil {
					yield(nil, err)
					return
				}
				emitDone(state, yield)
				return
			}

			if o.UseTool && hasCall(calls, ReturnResultToolName) {
				o.captureResult(ctx, state, final, calls, yield)
				return
			}

			if !executeAndSplice(ctx, o.executor(), state, calls, yield) {
				return
			}
		}

		emitCapExceeded(state, maxIter, yield)
	}
}

// prepare configures the request for the selected strategy.
func (o *TypedOutputStreamingOrchestrator) prepare(state *StreamingState) error {
	if o.UseTool {
		params, err := o.Schema.ToMap()
		if err != nil {
			return fmt.Errorf("failed to render output schema: %w", err)
		}
		state.Defs = append(slices.Clone(state.Defs), tool.Definition{
			Name:        ReturnResultToolName,
			Description: "Return the final structured result. Call this exactly once, with the complete answer as arguments.",
			Parameters:  params,
		})
		state.suppressStreaming = true
		return nil
	}

	raw, err := o.Schema.ToMap()
	if err != nil {
		return fmt.Errorf("failed to render output schema: %w", err)
	}
	options := state.Options.Clone()
	if options == nil {
		options = &model.Options{}
	}
	options.ResponseSchema = raw
	options.ResponseMIMEType = "application/json"
	state.Options = options
	return nil
}

// captureResult handles the model turn containing a return_result call:
// the first such call becomes the payload, any other calls in the batch
// still execute, and all results are spliced so the history stays paired.
// The model is not dispatched again.
func (o *TypedOutputStreamingOrchestrator) captureResult(ctx context.Context, state *StreamingState, final *chat.Message, calls []chat.ToolCallPart, yield func(*Chunk, error) bool) {
	parts := make([]chat.Part, 0, len(calls))
	captured := false

	for _, call := range calls {
		if call.Name == ReturnResultToolName && !captured {
			captured = true
			args := call.Args
			if args == nil {
				args = map[string]any{}
			}
			data, err := json.Marshal(args)
			if err != nil {
				yield(nil, fmt.Errorf("failed to encode return_result arguments: %w", err))
				return
			}
			state.payload = string(data)
			state.Coordinator.Complete(call.ID)
			parts = append(parts, chat.ToolResultPart{ID: call.ID, Name: call.Name, Result: args})
			continue
		}
		result := tool.ExecuteSingle(ctx, call, state.Tools)
		state.Coordinator.Complete(result.ID)
		parts = append(parts, result)
	}

	if text := final.Text(); text != "" {
		state.mergeMetadata(metadataSuppressedText, text)
	}

	resultMsg := chat.NewMessage(chat.RoleUser, parts...)
	state.History = append(state.History, resultMsg)
	if !yield(&Chunk{Message: resultMsg, FinishReason: chat.FinishReasonToolCalls}, nil) {
		return
	}

	if err := ValidatePayload(state.payload, o.Schema); err != nil {
		yield(nil, err)
		return
	}

	state.finish = chat.FinishReasonStop
	emitDone(state, yield)
}

func (o *TypedOutputStreamingOrchestrator) executor() tool.Executor {
	if o.Executor != nil {
		return o.Executor
	}
	return tool.SequentialExecutor{}
}

func hasCall(calls []chat.ToolCallPart, name string) bool {
	for _, call := range calls {
		if call.Name == name {
			return true
		}
	}
	return false
}

// ValidatePayload checks that payload is JSON conforming to s.
func ValidatePayload(payload string, s *schema.Schema) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal output schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode output schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.json", doc); err != nil {
		return fmt.Errorf("failed to register output schema: %w", err)
	}
	compiled, err := compiler.Compile("output.json")
	if err != nil {
		return fmt.Errorf("failed to compile output schema: %w", err)
	}

	value, err := jsonschema.UnmarshalJSON(strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("typed output is not valid JSON: %w", err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("typed output does not conform to the schema: %w", err)
	}
	return nil
}
