package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/schema"
)

func echoTool(name string) Tool {
	return New(name, "echoes its arguments", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		})
}

func TestNewMap(t *testing.T) {
	m, err := NewMap(echoTool("a"), echoTool("b"))
	require.NoError(t, err)
	assert.Len(t, m, 2)

	_, err = NewMap(echoTool("a"), echoTool("a"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewMap(echoTool(""))
	assert.ErrorContains(t, err, "empty")
}

func TestDescribe(t *testing.T) {
	weather := New("weather", "Get weather",
		schema.Object(map[string]*schema.Schema{
			"city": schema.String("City name"),
		}, "city"),
		func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })

	def, err := Describe(weather)
	require.NoError(t, err)
	assert.Equal(t, "weather", def.Name)
	assert.Equal(t, "object", def.Parameters["type"])
}

func TestNewTyped(t *testing.T) {
	type weatherArgs struct {
		City string `json:"city"`
		Days int    `json:"days"`
	}
	weather, err := NewTyped("weather", "Get weather",
		func(ctx context.Context, args weatherArgs) (any, error) {
			return fmt.Sprintf("%s for %d days", args.City, args.Days), nil
		})
	require.NoError(t, err)

	s := weather.InputSchema()
	require.NotNil(t, s)
	assert.Contains(t, s.Properties, "city")

	// Weak decoding: a float JSON number fills the int field.
	out, err := weather.Call(context.Background(), map[string]any{"city": "Oslo", "days": 3.0})
	require.NoError(t, err)
	assert.Equal(t, "Oslo for 3 days", out)
}

func TestCoordinator_IDRegistration(t *testing.T) {
	c := NewCoordinator()

	id := c.RegisterCall("call_1", "weather")
	assert.Equal(t, "call_1", id)
	assert.True(t, c.ValidateResult("call_1"))
	assert.False(t, c.ValidateResult("call_2"))

	synthesized := c.RegisterCall("", "weather")
	assert.NotEmpty(t, synthesized)
	assert.NotEqual(t, "call_1", synthesized)

	assert.Equal(t, 2, c.Outstanding())
	c.Complete("call_1")
	assert.Equal(t, 1, c.Outstanding())
	c.Clear()
	assert.Equal(t, 0, c.Outstanding())
}

func TestCoordinator_FIFOMatching(t *testing.T) {
	c := NewCoordinator()
	first := c.RegisterCall("", "weather")
	second := c.RegisterCall("", "weather")

	id, err := c.MatchByNameFIFO("weather")
	require.NoError(t, err)
	assert.Equal(t, first, id)

	id, err = c.MatchByNameFIFO("weather")
	require.NoError(t, err)
	assert.Equal(t, second, id)

	_, err = c.MatchByNameFIFO("weather")
	assert.ErrorIs(t, err, ErrNoMatchingCall)

	_, err = c.MatchByNameFIFO("nonesuch")
	assert.ErrorIs(t, err, ErrNoMatchingCall)
}

func TestExecuteSingle(t *testing.T) {
	tools, err := NewMap(
		echoTool("echo"),
		New("boom", "always fails", nil,
			func(ctx context.Context, args map[string]any) (any, error) {
				return nil, errors.New("kaboom")
			}),
	)
	require.NoError(t, err)

	ok := ExecuteSingle(context.Background(), chat.ToolCallPart{
		ID: "call_1", Name: "echo", Args: map[string]any{"x": 1},
	}, tools)
	assert.False(t, ok.IsError())
	assert.Equal(t, map[string]any{"x": 1}, ok.Result)

	failed := ExecuteSingle(context.Background(), chat.ToolCallPart{ID: "call_2", Name: "boom"}, tools)
	assert.True(t, failed.IsError())
	assert.Equal(t, "kaboom", failed.Error)

	missing := ExecuteSingle(context.Background(), chat.ToolCallPart{ID: "call_3", Name: "nonesuch"}, tools)
	assert.True(t, missing.IsError())
	assert.Contains(t, missing.Error, "not found")
}

func TestSequentialExecutor_PreservesOrder(t *testing.T) {
	tools, err := NewMap(echoTool("echo"))
	require.NoError(t, err)

	calls := []chat.ToolCallPart{
		{ID: "call_1", Name: "echo", Args: map[string]any{"n": 1}},
		{ID: "call_2", Name: "nonesuch"},
		{ID: "call_3", Name: "echo", Args: map[string]any{"n": 3}},
	}

	results, err := SequentialExecutor{}.ExecuteBatch(context.Background(), calls, tools)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := range calls {
		assert.Equal(t, calls[i].ID, results[i].ID)
	}
	assert.True(t, results[1].IsError())
}

func TestSequentialExecutor_Cancellation(t *testing.T) {
	tools, err := NewMap(echoTool("echo"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = SequentialExecutor{}.ExecuteBatch(ctx, []chat.ToolCallPart{
		{ID: "call_1", Name: "echo"},
	}, tools)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParallelExecutor_PreservesOrder(t *testing.T) {
	tools, err := NewMap(echoTool("echo"))
	require.NoError(t, err)

	var calls []chat.ToolCallPart
	for i := 0; i < 8; i++ {
		calls = append(calls, chat.ToolCallPart{
			ID:   fmt.Sprintf("call_%d", i),
			Name: "echo",
			Args: map[string]any{"n": i},
		})
	}

	results, err := ParallelExecutor{Limit: 3}.ExecuteBatch(context.Background(), calls, tools)
	require.NoError(t, err)
	require.Len(t, results, len(calls))
	for i := range calls {
		assert.Equal(t, calls[i].ID, results[i].ID)
	}
}

func TestDecodeArgs(t *testing.T) {
	type args struct {
		City  string  `json:"city"`
		Count int     `json:"count"`
		Ratio float64 `json:"ratio"`
	}

	var out args
	err := DecodeArgs(map[string]any{"city": "Oslo", "count": "5", "ratio": 0.5}, &out)
	require.NoError(t, err)
	assert.Equal(t, args{City: "Oslo", Count: 5, Ratio: 0.5}, out)

	err = DecodeArgs(map[string]any{"count": map[string]any{}}, &out)
	assert.ErrorContains(t, err, "invalid tool arguments")
}
