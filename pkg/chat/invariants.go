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

import "fmt"

// ValidateAlternation checks that a history starts with at most one system
// message and thereafter alternates user/model turns.
func ValidateAlternation(history []*Message) error {
	start := 0
	if len(history) > 0 && history[0].Role == RoleSystem {
		start = 1
	}
	var prev Role
	for i := start; i < len(history); i++ {
		role := history[i].Role
		if role == RoleSystem {
			return fmt.Errorf("message %d: system message not at head of history", i)
		}
		if role != RoleUser && role != RoleModel {
			return fmt.Errorf("message %d: unknown role %q", i, role)
		}
		if i > start && role == prev {
			return fmt.Errorf("message %d: consecutive %s messages", i, role)
		}
		prev = role
	}
	return nil
}

// ValidateToolPairing checks that every tool call in the history is followed
// by exactly one tool result with the same ID and name.
func ValidateToolPairing(history []*Message) error {
	type call struct {
		name    string
		matched bool
	}
	calls := make(map[string]*call)
	order := []string{}

	for i, msg := range history {
		for _, p := range msg.Parts {
			switch part := p.(type) {
			case ToolCallPart:
				if part.ID == "" {
					return fmt.Errorf("message %d: tool call %q has empty ID", i, part.Name)
				}
				if _, exists := calls[part.ID]; exists {
					return fmt.Errorf("message %d: duplicate tool call ID %q", i, part.ID)
				}
				calls[part.ID] = &call{name: part.Name}
				order = append(order, part.ID)
			case ToolResultPart:
				c, ok := calls[part.ID]
				if !ok {
					return fmt.Errorf("message %d: tool result %q has no preceding call", i, part.ID)
				}
				if c.matched {
					return fmt.Errorf("message %d: tool call %q already has a result", i, part.ID)
				}
				if c.name != part.Name {
					return fmt.Errorf("message %d: tool result %q name %q does not match call name %q",
						i, part.ID, part.Name, c.name)
				}
				c.matched = true
			}
		}
	}

	for _, id := range order {
		if !calls[id].matched {
			return fmt.Errorf("tool call %q has no result", id)
		}
	}
	return nil
}
