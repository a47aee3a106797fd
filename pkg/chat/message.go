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

// Package chat defines the canonical conversation model shared by every
// provider implementation.
//
// A conversation is an ordered sequence of Messages. Each Message carries
// one or more Parts (text, inline data, links, tool calls, tool results).
// Provider packages map this model to and from their native wire formats;
// nothing outside the mappers ever sees a provider-specific shape.
//
// Conventions:
//   - A system message appears at most once, and only first.
//   - After any leading system message, roles alternate user/model.
//   - Tool results are input to the next model turn, so they travel in a
//     user-role message.
package chat

// Role identifies the sender of a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
)

// Message is an ordered tuple of role, parts and optional metadata.
type Message struct {
	Role     Role
	Parts    []Part
	Metadata map[string]any
}

// NewMessage creates a message with the given role and parts.
func NewMessage(role Role, parts ...Part) *Message {
	return &Message{Role: role, Parts: parts}
}

// NewTextMessage creates a message holding a single text part.
func NewTextMessage(role Role, text string) *Message {
	return NewMessage(role, TextPart{Text: text})
}

// Text returns the concatenation of all text parts, in order.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var text string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

// ToolCalls returns the tool-call parts, in order.
func (m *Message) ToolCalls() []ToolCallPart {
	if m == nil {
		return nil
	}
	var calls []ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolResults returns the tool-result parts, in order.
func (m *Message) ToolResults() []ToolResultPart {
	if m == nil {
		return nil
	}
	var results []ToolResultPart
	for _, p := range m.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			results = append(results, tr)
		}
	}
	return results
}

// HasToolCalls reports whether the message contains at least one tool call.
func (m *Message) HasToolCalls() bool {
	if m == nil {
		return false
	}
	for _, p := range m.Parts {
		if _, ok := p.(ToolCallPart); ok {
			return true
		}
	}
	return false
}

// Clone returns a copy of the message with its parts and metadata copied.
// Part payloads (byte slices, argument maps) are shared; messages are
// treated as immutable once appended to a history.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := &Message{Role: m.Role}
	if m.Parts != nil {
		clone.Parts = make([]Part, len(m.Parts))
		copy(clone.Parts, m.Parts)
	}
	if m.Metadata != nil {
		clone.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// SetMetadata stores a metadata value, allocating the map on first use.
func (m *Message) SetMetadata(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// SplitSystem separates a leading system message from the rest of the
// history. Providers pass the system text as a dedicated parameter rather
// than a conversation turn.
func SplitSystem(history []*Message) (system string, rest []*Message) {
	if len(history) > 0 && history[0].Role == RoleSystem {
		return history[0].Text(), history[1:]
	}
	return "", history
}
