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

// FinishReason indicates why a model stream ended.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
	FinishReasonUnspecified   FinishReason = "unspecified"
)

// Usage contains token usage statistics for a request.
//
// Providers that do not report a field leave it zero.
type Usage struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
}

// Add accumulates another usage report into u. The orchestrator sums usage
// across loop iterations so the caller sees the whole conversation's cost.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.ResponseTokens += other.ResponseTokens
	u.TotalTokens += other.TotalTokens
}

// IsZero reports whether no usage was recorded.
func (u *Usage) IsZero() bool {
	return u == nil || (u.PromptTokens == 0 && u.ResponseTokens == 0 && u.TotalTokens == 0)
}
