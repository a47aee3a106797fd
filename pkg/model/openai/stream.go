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

package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
)

// streamState accumulates tool-call fragments across SSE chunks.
// The API streams a call's ID and name first, then its arguments in
// pieces; complete calls are emitted only once the stream signals a
// finish reason.
type streamState struct {
	calls      []*pendingCall
	byIndex    map[int]*pendingCall
	responseID string
	finish     chat.FinishReason
	usage      *chat.Usage
	emitted    bool
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// readStream parses the SSE response body and yields canonical frames.
func (c *Client) readStream(body io.Reader, yield func(*model.Response, error) bool) {
	state := &streamState{byIndex: make(map[int]*pendingCall)}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Debug("Skipping malformed stream chunk", "provider", c.providerName, "error", err)
			continue
		}

		if chunk.Error != nil {
			yield(nil, &model.ProtocolError{
				Provider: c.providerName,
				Message:  chunk.Error.Message,
			})
			return
		}

		if !c.processChunk(state, &chunk, yield) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		yield(nil, &model.ProtocolError{
			Provider: c.providerName,
			Message:  "stream read failed",
			Err:      err,
		})
		return
	}

	// Some compatible backends close the stream without a finish_reason.
	if !state.emitted && (len(state.calls) > 0 || state.finish != "" || state.usage != nil) {
		c.emitFinal(state, yield)
	}
}

// processChunk folds one chunk into the state, yielding text deltas as
// they arrive. Returns false when the consumer stops.
func (c *Client) processChunk(state *streamState, chunk *apiStreamChunk, yield func(*model.Response, error) bool) bool {
	if chunk.ID != "" {
		state.responseID = chunk.ID
	}
	if chunk.Usage != nil {
		state.usage = &chat.Usage{
			PromptTokens:   chunk.Usage.PromptTokens,
			ResponseTokens: chunk.Usage.CompletionTokens,
			TotalTokens:    chunk.Usage.TotalTokens,
		}
	}

	if len(chunk.Choices) == 0 {
		// Usage-only frame, arrives after the final choice.
		if chunk.Usage != nil && state.emitted {
			return yield(&model.Response{
				Usage: state.usage,
				ID:    state.responseID,
			}, nil)
		}
		return true
	}

	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		resp := &model.Response{
			Message: chat.NewMessage(chat.RoleModel, chat.TextPart{Text: choice.Delta.Content}),
			ID:      state.responseID,
		}
		if !yield(resp, nil) {
			return false
		}
	}

	for _, delta := range choice.Delta.ToolCalls {
		index := 0
		if delta.Index != nil {
			index = *delta.Index
		}
		call, ok := state.byIndex[index]
		if !ok {
			call = &pendingCall{id: delta.ID, name: delta.Function.Name}
			state.byIndex[index] = call
			state.calls = append(state.calls, call)
		}
		if delta.ID != "" {
			call.id = delta.ID
		}
		if delta.Function.Name != "" {
			call.name = delta.Function.Name
		}
		call.args.WriteString(delta.Function.Arguments)
	}

	if choice.FinishReason != "" {
		state.finish = mapFinishReason(choice.FinishReason)
		state.emitted = true
		return c.emitFinal(state, yield)
	}

	return true
}

// emitFinal yields the terminal frame: completed tool calls (if any),
// the finish reason and whatever usage has been seen so far.
func (c *Client) emitFinal(state *streamState, yield func(*model.Response, error) bool) bool {
	state.emitted = true

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
			id := call.id
			if id == "" {
				id = "call_" + uuid.NewString()
			}

			args := map[string]any{}
			if raw := call.args.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					yield(nil, &model.ProtocolError{
						Provider: c.providerName,
						Message:  "malformed tool call arguments for " + call.name,
						Err:      err,
					})
					return false
				}
			}

			parts = append(parts, chat.ToolCallPart{
				ID:   id,
				Name: call.name,
				Args: args,
			})
		}
		resp.Message = chat.NewMessage(chat.RoleModel, parts...)
		resp.FinishReason = chat.FinishReasonToolCalls
	}

	return yield(resp, nil)
}
