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

package tool

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNoMatchingCall is returned when a tool result cannot be paired with
// any outstanding tool call.
var ErrNoMatchingCall = errors.New("no matching outstanding tool call")

// Coordinator tracks outstanding tool calls and pairs results to them.
//
// Providers with stable call IDs (the OpenAI family) register the provider
// ID verbatim and results are validated by ID. Providers that omit IDs
// (Gemini function responses) get a synthesized ID at registration and
// results are paired FIFO by tool name.
type Coordinator struct {
	mu          sync.Mutex
	outstanding map[string]string   // id -> name
	byName      map[string][]string // name -> FIFO queue of ids
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		outstanding: make(map[string]string),
		byName:      make(map[string][]string),
	}
}

// RegisterCall records an emitted tool call. If id is empty, a unique one
// is synthesized. Returns the ID under which the call is tracked.
func (c *Coordinator) RegisterCall(id, name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" {
		id = "call_" + uuid.NewString()
	}
	if _, exists := c.outstanding[id]; !exists {
		c.outstanding[id] = name
		c.byName[name] = append(c.byName[name], id)
	}
	return id
}

// ValidateResult reports whether id belongs to an outstanding call.
func (c *Coordinator) ValidateResult(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.outstanding[id]
	return ok
}

// MatchByNameFIFO pops and returns the oldest outstanding call ID for the
// given tool name. Used by providers whose results carry no call ID.
func (c *Coordinator) MatchByNameFIFO(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.byName[name]
	if len(queue) == 0 {
		return "", ErrNoMatchingCall
	}
	id := queue[0]
	c.byName[name] = queue[1:]
	delete(c.outstanding, id)
	return id, nil
}

// Complete removes a call from the outstanding set once its result has
// been recorded.
func (c *Coordinator) Complete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, ok := c.outstanding[id]
	if !ok {
		return
	}
	delete(c.outstanding, id)

	queue := c.byName[name]
	for i, queued := range queue {
		if queued == id {
			c.byName[name] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
}

// Outstanding returns the number of unresolved calls.
func (c *Coordinator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.outstanding)
}

// Clear resets the coordinator for a new conversation.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outstanding = make(map[string]string)
	c.byName = make(map[string][]string)
}
