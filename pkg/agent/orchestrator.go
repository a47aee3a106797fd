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
	"context"
	"iter"
	"log/slog"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// defaultMaxIterations bounds the tool-calling loop.
const defaultMaxIterations = 10

// Chunk is one element of an agent stream.
//
// Three shapes occur: incremental text (Text non-empty), a message boundary
// (Message set after a whole turn was appended to the history), and the
// terminal chunk (Final true, carrying finish reason, usage, metadata and
// the provider response ID).
type Chunk struct {
	Text         string
	Message      *chat.Message
	Final        bool
	FinishReason chat.FinishReason
	Usage        *chat.Usage
	Metadata     map[string]any
	ID           string
}

// Orchestrator drives the stream-consolidate-tools loop for one request.
type Orchestrator interface {
	Run(ctx context.Context, chatModel model.ChatModel, state *StreamingState) iter.Seq2[*Chunk, error]
}

// DefaultStreamingOrchestrator streams a model response, splices tool
// results back into the history, and re-streams until the model stops
// calling tools or the iteration cap is reached.
type DefaultStreamingOrchestrator struct {
	// Executor runs tool batches. Defaults to SequentialExecutor.
	Executor tool.Executor

	// MaxIterations caps the loop. Zero means the default of 10.
	MaxIterations int
}

// Run implements Orchestrator.
func (o *DefaultStreamingOrchestrator) Run(ctx context.Context, chatModel model.ChatModel, state *StreamingState) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		maxIter := o.MaxIterations
		if maxIter <= 0 {
			maxIter = defaultMaxIterations
		}

		for i := 0; i < maxIter; i++ {
			final, ok := streamOnce(ctx, chatModel, state, yield)
			if !ok {
				return
			}

			calls := registerCalls(state, final)
			if len(calls) == 0 {
				emitDone(state, yield)
				return
			}

			if !executeAndSplice(ctx, o.executor(), state, calls, yield) {
				return
			}
		}

		emitCapExceeded(state, maxIter, yield)
	}
}

func (o *DefaultStreamingOrchestrator) executor() tool.Executor {
	if o.Executor != nil {
		return o.Executor
	}
	return tool.SequentialExecutor{}
}

// streamOnce drives one model stream to completion: yields text chunks as
// they arrive, consolidates the accumulated message, appends it to the
// history and yields the message boundary. Returns false when the consumer
// stopped or an error was yielded.
func streamOnce(ctx context.Context, chatModel model.ChatModel, state *StreamingState, yield func(*Chunk, error) bool) (*chat.Message, bool) {
	state.beginMessage()

	req := &model.Request{
		Messages: state.History,
		Tools:    state.Defs,
		Options:  state.Options,
	}

	for resp, err := range chatModel.SendStream(ctx, req) {
		if err != nil {
			yield(nil, err)
			return nil, false
		}

		text := resp.Text()
		state.absorb(resp)

		if text == "" || state.suppressStreaming {
			continue
		}
		// Visual separation between the text before and after a tool run.
		if state.shouldPrefixNextMessage && state.isFirstChunkOfMessage {
			text = "\n" + text
		}
		state.isFirstChunkOfMessage = false
		state.shouldPrefixNextMessage = false
		if !yield(&Chunk{Text: text}, nil) {
			return nil, false
		}
	}

	final := state.consolidate()
	state.History = append(state.History, final)
	if !yield(&Chunk{Message: final}, nil) {
		return nil, false
	}
	return final, true
}

// registerCalls records the model turn's tool calls with the coordinator
// and rewrites any empty IDs with synthesized ones, both in the returned
// batch and in the history message itself.
func registerCalls(state *StreamingState, final *chat.Message) []chat.ToolCallPart {
	var calls []chat.ToolCallPart
	for i, p := range final.Parts {
		call, ok := p.(chat.ToolCallPart)
		if !ok {
			continue
		}
		call.ID = state.Coordinator.RegisterCall(call.ID, call.Name)
		final.Parts[i] = call
		calls = append(calls, call)
	}
	return calls
}

// executeAndSplice runs a tool batch and appends the results, in call
// order, as one user-role message. Returns false when the consumer stopped
// or an error was yielded.
func executeAndSplice(ctx context.Context, executor tool.Executor, state *StreamingState, calls []chat.ToolCallPart, yield func(*Chunk, error) bool) bool {
	results, err := executor.ExecuteBatch(ctx, calls, state.Tools)
	if err != nil {
		yield(nil, err)
		return false
	}

	parts := make([]chat.Part, len(results))
	for i, result := range results {
		if state.Coordinator.ValidateResult(result.ID) {
			state.Coordinator.Complete(result.ID)
		} else {
			slog.Warn("Tool result does not match an outstanding call",
				"id", result.ID,
				"name", result.Name)
		}
		parts[i] = result
	}

	resultMsg := chat.NewMessage(chat.RoleUser, parts...)
	state.History = append(state.History, resultMsg)
	state.shouldPrefixNextMessage = true

	return yield(&Chunk{Message: resultMsg, FinishReason: chat.FinishReasonToolCalls}, nil)
}

// emitDone yields the terminal chunk.
func emitDone(state *StreamingState, yield func(*Chunk, error) bool) {
	state.done = true
	yield(&Chunk{
		Final:        true,
		FinishReason: state.finishReason(),
		Usage:        state.totalUsage(),
		Metadata:     state.metadata,
		ID:           state.responseID,
	}, nil)
}

// emitCapExceeded terminates a runaway tool-calling loop.
func emitCapExceeded(state *StreamingState, maxIter int, yield func(*Chunk, error) bool) {
	slog.Warn("Tool-calling loop exceeded the iteration cap",
		"cap", maxIter,
		"outstanding_calls", state.Coordinator.Outstanding())
	state.finish = chat.FinishReasonError
	emitDone(state, yield)
}
