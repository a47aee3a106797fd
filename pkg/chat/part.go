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

package chat

// Part is the smallest unit of content within a Message.
//
// Concrete types: TextPart, DataPart, LinkPart, ToolCallPart, ToolResultPart.
// The interface is sealed so mappers can exhaustively switch on it.
type Part interface {
	partKind() string
}

// TextPart carries plain text.
type TextPart struct {
	Text string
}

// DataPart carries an inline binary payload.
type DataPart struct {
	Bytes    []byte
	MIMEType string
	Name     string
}

// LinkPart references external content by URI.
type LinkPart struct {
	URI      string
	MIMEType string
	Name     string
}

// ToolCallPart is a tool invocation emitted by the model.
//
// ID is non-empty and unique within a conversation's outstanding-call set.
// Providers that omit IDs get synthetic ones at emission time.
type ToolCallPart struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResultPart is the outcome of a tool invocation. Exactly one of
// Result and Error is meaningful: a failed invocation carries the failure
// message in Error and a nil Result.
type ToolResultPart struct {
	ID     string
	Name   string
	Result any
	Error  string
}

func (TextPart) partKind() string       { return "text" }
func (DataPart) partKind() string       { return "data" }
func (LinkPart) partKind() string       { return "link" }
func (ToolCallPart) partKind() string   { return "tool_call" }
func (ToolResultPart) partKind() string { return "tool_result" }

// IsError reports whether the result represents a failed invocation.
func (p ToolResultPart) IsError() bool {
	return p.Error != ""
}
