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

import "github.com/kadirpekel/maestro/pkg/chat"

// Accumulate folds one streaming chunk into the message under construction.
//
// Text parts concatenate into the last part when it is also text, so
// arbitrary provider chunking collapses into contiguous runs. Tool calls
// merge into an existing call with the same non-empty ID, taking the new
// name and arguments when non-empty. Everything else appends unchanged.
func Accumulate(existing, chunk *chat.Message) {
	if existing == nil || chunk == nil {
		return
	}

	for _, p := range chunk.Parts {
		switch part := p.(type) {
		case chat.TextPart:
			if n := len(existing.Parts); n > 0 {
				if last, ok := existing.Parts[n-1].(chat.TextPart); ok {
					existing.Parts[n-1] = chat.TextPart{Text: last.Text + part.Text}
					continue
				}
			}
			existing.Parts = append(existing.Parts, part)

		case chat.ToolCallPart:
			merged := false
			for i, ep := range existing.Parts {
				call, ok := ep.(chat.ToolCallPart)
				if !ok || call.ID == "" || call.ID != part.ID {
					continue
				}
				if part.Name != "" {
					call.Name = part.Name
				}
				if len(part.Args) > 0 {
					call.Args = part.Args
				}
				existing.Parts[i] = call
				merged = true
				break
			}
			if !merged {
				existing.Parts = append(existing.Parts, part)
			}

		default:
			existing.Parts = append(existing.Parts, p)
		}
	}

	for k, v := range chunk.Metadata {
		existing.SetMetadata(k, v)
	}
}

// Consolidate collapses an accumulated message into its final canonical
// form: all text parts merge, in order, into a single text part at the
// position of the first one; non-text parts keep their original order;
// empty text disappears.
//
// Consolidate is idempotent: applying it to an already consolidated message
// returns an equivalent message.
func Consolidate(m *chat.Message) *chat.Message {
	if m == nil {
		return nil
	}

	var text string
	textAt := -1
	var parts []chat.Part

	for _, p := range m.Parts {
		if tp, ok := p.(chat.TextPart); ok {
			if textAt == -1 {
				textAt = len(parts)
				parts = append(parts, nil)
			}
			text += tp.Text
			continue
		}
		parts = append(parts, p)
	}

	if textAt != -1 {
		if text == "" {
			parts = append(parts[:textAt], parts[textAt+1:]...)
		} else {
			parts[textAt] = chat.TextPart{Text: text}
		}
	}

	final := &chat.Message{Role: m.Role, Parts: parts}
	for k, v := range m.Metadata {
		final.SetMetadata(k, v)
	}
	return final
}
