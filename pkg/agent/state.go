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
	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// StreamingState is the per-request mutable state of one send call. It is
// created when the call starts, owned exclusively by the orchestrator
// driving that call, and discarded at return. Nothing is shared across
// concurrent requests.
type StreamingState struct {
	// History is the conversation, mutated as the loop appends model turns
	// and tool-result turns.
	History []*chat.Message

	// Tools is the immutable tool snapshot for this request.
	Tools tool.Map

	// Defs are the wire-level descriptors sent to the provider. The
	// typed-output orchestrator may extend this with a synthetic tool.
	Defs []tool.Definition

	// Options is the generation configuration for every iteration.
	Options *model.Options

	// Coordinator pairs tool calls with tool results.
	Coordinator *tool.Coordinator

	accumulated  *chat.Message
	iterMetadata map[string]any

	finish     chat.FinishReason
	usage      chat.Usage
	metadata   map[string]any
	responseID string
	payload    string
	done       bool

	shouldPrefixNextMessage bool
	isFirstChunkOfMessage   bool
	suppressStreaming       bool
}

// NewStreamingState creates the state for one request.
func NewStreamingState(history []*chat.Message, tools tool.Map, defs []tool.Definition, options *model.Options) *StreamingState {
	return &StreamingState{
		History:     history,
		Tools:       tools,
		Defs:        defs,
		Options:     options,
		Coordinator: tool.NewCoordinator(),
	}
}

// beginMessage resets the per-message accumulation before a new stream.
func (s *StreamingState) beginMessage() {
	s.accumulated = chat.NewMessage(chat.RoleModel)
	s.iterMetadata = nil
	s.isFirstChunkOfMessage = true
}

// absorb folds one stream frame into the accumulated message and records
// the frame's finish reason, usage, metadata and response ID.
func (s *StreamingState) absorb(resp *model.Response) {
	if resp == nil {
		return
	}
	if resp.Message != nil {
		Accumulate(s.accumulated, resp.Message)
	}
	if resp.FinishReason != "" {
		s.finish = resp.FinishReason
	}
	s.usage.Add(resp.Usage)
	if resp.ID != "" {
		s.responseID = resp.ID
	}
	for k, v := range resp.Metadata {
		if s.iterMetadata == nil {
			s.iterMetadata = make(map[string]any)
		}
		s.iterMetadata[k] = v
	}
}

// consolidate finalizes the accumulated message, attaching the iteration's
// provider metadata so it survives on the history (thinking blocks need to
// be replayed on later turns).
func (s *StreamingState) consolidate() *chat.Message {
	final := Consolidate(s.accumulated)
	for k, v := range s.iterMetadata {
		final.SetMetadata(k, v)
		s.mergeMetadata(k, v)
	}
	s.iterMetadata = nil
	return final
}

func (s *StreamingState) mergeMetadata(key string, value any) {
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata[key] = value
}

// finishReason returns the last reported finish reason, defaulting to stop.
func (s *StreamingState) finishReason() chat.FinishReason {
	if s.finish == "" {
		return chat.FinishReasonStop
	}
	return s.finish
}

// totalUsage returns the usage summed across loop iterations, nil when no
// provider reported any.
func (s *StreamingState) totalUsage() *chat.Usage {
	if s.usage.IsZero() {
		return nil
	}
	usage := s.usage
	return &usage
}
