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
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/maestro/pkg/chat"
)

// Executor turns a batch of tool calls into a batch of tool results.
//
// Results preserve call order. Tool failures (unknown tool, invocation
// error) become error results; only context cancellation is returned as a
// Go error.
type Executor interface {
	ExecuteBatch(ctx context.Context, calls []chat.ToolCallPart, tools Map) ([]chat.ToolResultPart, error)
}

// SequentialExecutor runs tools one at a time, in call order.
type SequentialExecutor struct{}

// ExecuteBatch implements Executor.
func (SequentialExecutor) ExecuteBatch(ctx context.Context, calls []chat.ToolCallPart, tools Map) ([]chat.ToolResultPart, error) {
	results := make([]chat.ToolResultPart, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, ExecuteSingle(ctx, call, tools))
	}
	return results, nil
}

// ParallelExecutor runs tools concurrently, bounded by Limit (0 means no
// bound). Results still preserve call order.
type ParallelExecutor struct {
	Limit int
}

// ExecuteBatch implements Executor.
func (e ParallelExecutor) ExecuteBatch(ctx context.Context, calls []chat.ToolCallPart, tools Map) ([]chat.ToolResultPart, error) {
	results := make([]chat.ToolResultPart, len(calls))

	group, groupCtx := errgroup.WithContext(ctx)
	if e.Limit > 0 {
		group.SetLimit(e.Limit)
	}
	for i, call := range calls {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			results[i] = ExecuteSingle(groupCtx, call, tools)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ExecuteSingle invokes one tool and wraps the outcome as a result part.
// The result is always returned to the model, even on failure.
func ExecuteSingle(ctx context.Context, call chat.ToolCallPart, tools Map) chat.ToolResultPart {
	result := chat.ToolResultPart{
		ID:   call.ID,
		Name: call.Name,
	}

	t, ok := tools[call.Name]
	if !ok {
		result.Error = fmt.Sprintf("Tool %s not found", call.Name)
		return result
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	started := time.Now()
	out, err := t.Call(ctx, args)
	if err != nil {
		slog.Debug("Tool invocation failed",
			"tool", call.Name,
			"call_id", call.ID,
			"duration", time.Since(started),
			"error", err)
		result.Error = err.Error()
		return result
	}

	slog.Debug("Tool invocation completed",
		"tool", call.Name,
		"call_id", call.ID,
		"duration", time.Since(started))
	result.Result = out
	return result
}
