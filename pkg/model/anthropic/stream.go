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

package anthropic

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
)

// streamState accumulates per-block fragments across SSE events. The
// Messages API streams content as indexed blocks: tool_use blocks grow
// their input JSON through input_json_delta events and complete at
// content_block_stop.
type streamState struct {
	responseID string
	finish     chat.FinishReason
	usage      *chat.Usage

	toolCalls       map[int]*chat.ToolCallPart
	toolJSONBuffers map[int]*strings.Builder
	completed       []chat.ToolCallPart

	thinking          strings.Builder
	thinkingSignature strings.Builder
}

func newStreamState() *streamState {
	return &streamState{
		toolCalls:       make(map[int]*chat.ToolCallPart),
		toolJSONBuffers: make(map[int]*strings.Builder),
	}
}

// readStream parses the SSE response body and yields canonical frames.
func (c *Client) readStream(body io.Reader, yield func(*model.Response, error) bool) {
	state := newStreamState()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			slog.Debug("Skipping malformed stream event", "provider", "anthropic", "error", err)
			continue
		}

		if event.Type == "error" && event.Error != nil {
			yield(nil, &model.ProtocolError{
				Provider: "anthropic",
				Message:  event.Error.Message,
			})
			return
		}

		done, ok := c.processEvent(state, &event, yield)
		if !ok {
			return
		}
		if done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		yield(nil, &model.ProtocolError{
			Provider: "anthropic",
			Message:  "stream read failed",
			Err:      err,
		})
		return
	}

	c.emitFinal(state, yield)
}

// processEvent folds one SSE event into the state, yielding text deltas
// as they arrive. The first return reports whether the message is
// complete; the second whether the consumer wants more.
func (c *Client) processEvent(state *streamState, event *streamEvent, yield func(*model.Response, error) bool) (bool, bool) {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			state.responseID = event.Message.ID
			if event.Message.Usage != nil {
				state.usage = &chat.Usage{PromptTokens: event.Message.Usage.InputTokens}
			}
		}

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			state.toolCalls[event.Index] = &chat.ToolCallPart{
				ID:   event.ContentBlock.ID,
				Name: event.ContentBlock.Name,
			}
			state.toolJSONBuffers[event.Index] = &strings.Builder{}
		}

	case "content_block_delta":
		if event.Delta == nil {
			break
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				resp := &model.Response{
					Message: chat.NewMessage(chat.RoleModel, chat.TextPart{Text: event.Delta.Text}),
					ID:      state.responseID,
				}
				if !yield(resp, nil) {
					return false, false
				}
			}
		case "input_json_delta":
			if buf, ok := state.toolJSONBuffers[event.Index]; ok {
				buf.WriteString(event.Delta.PartialJSON)
			}
		case "thinking_delta":
			state.thinking.WriteString(event.Delta.Thinking)
		case "signature_delta":
			state.thinkingSignature.WriteString(event.Delta.Signature)
		}

	case "content_block_stop":
		call, ok := state.toolCalls[event.Index]
		if !ok {
			break
		}
		delete(state.toolCalls, event.Index)

		args := map[string]any{}
		if buf := state.toolJSONBuffers[event.Index]; buf != nil && buf.Len() > 0 {
			if err := json.Unmarshal([]byte(buf.String()), &args); err != nil {
				yield(nil, &model.ProtocolError{
					Provider: "anthropic",
					Message:  "malformed tool input for " + call.Name,
					Err:      err,
				})
				return false, false
			}
		}
		call.Args = args
		state.completed = append(state.completed, *call)

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			state.finish = mapStopReason(event.Delta.StopReason)
		}
		if event.Usage != nil {
			if state.usage == nil {
				state.usage = &chat.Usage{}
			}
			state.usage.ResponseTokens = event.Usage.OutputTokens
			state.usage.TotalTokens = state.usage.PromptTokens + event.Usage.OutputTokens
		}

	case "message_stop":
		return true, true
	}

	return false, true
}

// emitFinal yields the terminal frame: completed tool calls, thinking
// metadata, finish reason and usage.
func (c *Client) emitFinal(state *streamState, yield func(*model.Response, error) bool) {
	resp := &model.Response{
		FinishReason: state.finish,
		Usage:        state.usage,
		ID:           state.responseID,
	}
	if resp.FinishReason == "" {
		resp.FinishReason = chat.FinishReasonStop
	}

	if len(state.completed) > 0 {
		parts := make([]chat.Part, 0, len(state.completed))
		for _, call := range state.completed {
			parts = append(parts, call)
		}
		resp.Message = chat.NewMessage(chat.RoleModel, parts...)
		resp.FinishReason = chat.FinishReasonToolCalls
	}

	if state.thinking.Len() > 0 {
		resp.Metadata = map[string]any{
			metadataThinking:          state.thinking.String(),
			metadataThinkingSignature: state.thinkingSignature.String(),
		}
	}

	yield(resp, nil)
}
