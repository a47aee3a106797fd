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

// Package agent is the user-facing conversation surface.
//
// An Agent binds a provider, a tool set and generation options. Send,
// SendStream and SendFor drive a chat model through the tool-calling loop
// and return the newly added messages, usage and finish reason. The agent
// holds no conversational state: history is a parameter and the caller
// owns it.
//
// Models are constructed lazily, per call, and disposed when the call
// returns. A missing API key therefore surfaces from Send, never from New.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/embedder"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/provider"
	"github.com/kadirpekel/maestro/pkg/schema"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// Agent binds a provider, a tool set and generation options behind one
// conversation surface.
type Agent struct {
	prov *provider.Provider
	ref  *provider.ModelRef

	tools   []tool.Tool
	toolMap tool.Map
	defs    []tool.Definition

	instructions  string
	modelCfg      provider.ModelConfig
	options       *model.Options
	executor      tool.Executor
	maxIterations int
}

// Option configures an Agent.
type Option func(*Agent)

// WithTools binds the tools the model may call.
func WithTools(tools ...tool.Tool) Option {
	return func(a *Agent) { a.tools = append(a.tools, tools...) }
}

// WithInstructions sets the system prompt, prepended when the caller's
// history has no leading system message.
func WithInstructions(instructions string) Option {
	return func(a *Agent) { a.instructions = instructions }
}

// WithAPIKey sets the key explicitly, overriding environment resolution.
func WithAPIKey(apiKey string) Option {
	return func(a *Agent) { a.modelCfg.APIKey = apiKey }
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(baseURL string) Option {
	return func(a *Agent) { a.modelCfg.BaseURL = baseURL }
}

// WithEnvironment sets the process-local variable map consulted before the
// OS environment when resolving API keys.
func WithEnvironment(env *config.Environment) Option {
	return func(a *Agent) { a.modelCfg.Environment = env }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(timeout time.Duration) Option {
	return func(a *Agent) { a.modelCfg.Timeout = timeout }
}

// WithMaxTokens limits the response length.
func WithMaxTokens(maxTokens int) Option {
	return func(a *Agent) { a.modelCfg.MaxTokens = maxTokens }
}

// WithTemperature controls randomness.
func WithTemperature(temperature float64) Option {
	return func(a *Agent) { a.modelCfg.Temperature = &temperature }
}

// WithGenerateOptions sets per-request generation configuration.
func WithGenerateOptions(options *model.Options) Option {
	return func(a *Agent) { a.options = options }
}

// WithMaxIterations changes the tool-calling loop cap (default 10).
func WithMaxIterations(maxIterations int) Option {
	return func(a *Agent) { a.maxIterations = maxIterations }
}

// WithParallelTools runs tool batches concurrently, bounded by limit
// (0 means no bound). Results still preserve call order.
func WithParallelTools(limit int) Option {
	return func(a *Agent) { a.executor = tool.ParallelExecutor{Limit: limit} }
}

// New creates an agent for a model string (see provider.ParseModelString).
// Unknown providers and malformed model strings fail here; API keys are
// resolved lazily on first use.
func New(modelString string, opts ...Option) (*Agent, error) {
	ref, err := provider.ParseModelString(modelString)
	if err != nil {
		return nil, err
	}
	prov, err := provider.Get(ref.Provider)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		prov:          prov,
		ref:           ref,
		executor:      tool.SequentialExecutor{},
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.toolMap, err = tool.NewMap(a.tools...)
	if err != nil {
		return nil, err
	}
	a.defs, err = tool.Definitions(a.tools)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Provider returns the resolved provider.
func (a *Agent) Provider() *provider.Provider {
	return a.prov
}

// ChatResult is the outcome of one send call.
type ChatResult[T any] struct {
	// Output is the final answer: the last model turn's text for Send, the
	// decoded payload for SendFor.
	Output T

	// Messages are the newly added messages only, prompt onward. The
	// caller appends them to its own history.
	Messages []*chat.Message

	// FinishReason reports why the final stream ended.
	FinishReason chat.FinishReason

	// Metadata carries provider extras accumulated across the loop.
	Metadata map[string]any

	// Usage is the token usage summed across loop iterations.
	Usage *chat.Usage

	// ID is the provider's response identifier, when reported.
	ID string
}

type sendConfig struct {
	history     []*chat.Message
	attachments []chat.Part
}

// SendOption configures one send call.
type SendOption func(*sendConfig)

// WithHistory provides the prior conversation. The agent never mutates it;
// new messages are returned in ChatResult.Messages.
func WithHistory(history ...*chat.Message) SendOption {
	return func(c *sendConfig) { c.history = history }
}

// WithAttachments adds parts (images, files) to the prompt message.
func WithAttachments(parts ...chat.Part) SendOption {
	return func(c *sendConfig) { c.attachments = append(c.attachments, parts...) }
}

// Send runs the conversation to completion and returns the final text.
func (a *Agent) Send(ctx context.Context, prompt string, opts ...SendOption) (*ChatResult[string], error) {
	inv, err := a.newInvocation(prompt, nil, opts)
	if err != nil {
		return nil, err
	}
	defer inv.chatModel.Close()

	for _, err := range inv.orch.Run(ctx, inv.chatModel, inv.state) {
		if err != nil {
			return nil, err
		}
	}
	result := inv.result()
	result.Output = lastModelText(result.Messages)
	return result, nil
}

// SendStream runs the conversation, yielding chunks as they arrive: text
// deltas, message boundaries, then a terminal chunk carrying usage.
// Abandoning the sequence cancels the in-flight stream and skips pending
// tool invocations.
func (a *Agent) SendStream(ctx context.Context, prompt string, opts ...SendOption) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		inv, err := a.newInvocation(prompt, nil, opts)
		if err != nil {
			yield(nil, err)
			return
		}
		defer inv.chatModel.Close()

		for chunk, err := range inv.orch.Run(ctx, inv.chatModel, inv.state) {
			if !yield(chunk, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// SendTyped runs the conversation with an output schema and returns the
// raw JSON payload, validated against the schema. Callers that want a Go
// value use SendFor.
func (a *Agent) SendTyped(ctx context.Context, prompt string, outputSchema *schema.Schema, opts ...SendOption) (*ChatResult[string], error) {
	if outputSchema == nil {
		return nil, fmt.Errorf("output schema cannot be nil")
	}
	inv, err := a.newInvocation(prompt, outputSchema, opts)
	if err != nil {
		return nil, err
	}
	defer inv.chatModel.Close()

	for _, err := range inv.orch.Run(ctx, inv.chatModel, inv.state) {
		if err != nil {
			return nil, err
		}
	}
	result := inv.result()
	result.Output = inv.state.payload
	return result, nil
}

// SendFor runs the conversation with a schema derived from T by reflection
// and decodes the payload into T.
func SendFor[T any](ctx context.Context, a *Agent, prompt string, opts ...SendOption) (*ChatResult[T], error) {
	outputSchema, err := schema.For[T]()
	if err != nil {
		return nil, fmt.Errorf("failed to derive output schema: %w", err)
	}

	raw, err := a.SendTyped(ctx, prompt, outputSchema, opts...)
	if err != nil {
		return nil, err
	}

	var output T
	if err := json.Unmarshal([]byte(raw.Output), &output); err != nil {
		return nil, fmt.Errorf("failed to decode typed output: %w", err)
	}
	return &ChatResult[T]{
		Output:       output,
		Messages:     raw.Messages,
		FinishReason: raw.FinishReason,
		Metadata:     raw.Metadata,
		Usage:        raw.Usage,
		ID:           raw.ID,
	}, nil
}

// EmbeddingsResult is one embedded text.
type EmbeddingsResult struct {
	Embedding []float32
	Model     string
	Dimension int
}

// BatchEmbeddingsResult holds embeddings in input order.
type BatchEmbeddingsResult struct {
	Embeddings [][]float32
	Model      string
	Dimension  int
}

// EmbedQuery embeds one text with the provider's embeddings model.
func (a *Agent) EmbedQuery(ctx context.Context, text string) (*EmbeddingsResult, error) {
	emb, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	defer emb.Close()

	vector, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &EmbeddingsResult{Embedding: vector, Model: emb.Model(), Dimension: emb.Dimension()}, nil
}

// EmbedDocuments embeds multiple texts, preserving input order.
func (a *Agent) EmbedDocuments(ctx context.Context, texts []string) (*BatchEmbeddingsResult, error) {
	emb, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	defer emb.Close()

	vectors, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingsResult{Embeddings: vectors, Model: emb.Model(), Dimension: emb.Dimension()}, nil
}

// invocation carries one send call's model, state and orchestrator.
type invocation struct {
	chatModel model.ChatModel
	state     *StreamingState
	orch      Orchestrator
	baseLen   int
}

func (a *Agent) newInvocation(prompt string, outputSchema *schema.Schema, opts []SendOption) (*invocation, error) {
	var cfg sendConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	chatModel, err := a.newChatModel()
	if err != nil {
		return nil, err
	}

	history := a.initialHistory(cfg.history)
	baseLen := len(history)

	userParts := make([]chat.Part, 0, 1+len(cfg.attachments))
	userParts = append(userParts, chat.TextPart{Text: prompt})
	userParts = append(userParts, cfg.attachments...)
	history = append(history, chat.NewMessage(chat.RoleUser, userParts...))

	state := NewStreamingState(history, a.toolMap, a.defs, a.options.Clone())

	var orch Orchestrator
	if outputSchema != nil {
		orch = &TypedOutputStreamingOrchestrator{
			Executor:      a.executor,
			MaxIterations: a.maxIterations,
			Schema:        outputSchema,
			UseTool:       a.useReturnResultTool(),
		}
	} else {
		orch = &DefaultStreamingOrchestrator{
			Executor:      a.executor,
			MaxIterations: a.maxIterations,
		}
	}

	return &invocation{chatModel: chatModel, state: state, orch: orch, baseLen: baseLen}, nil
}

// useReturnResultTool selects the typed-output strategy: native response
// schemas are preferred, falling back to the synthetic tool when the
// provider cannot combine a schema with the bound tools.
func (a *Agent) useReturnResultTool() bool {
	if a.prov.Has(provider.CapabilityTypedOutputWithTools) {
		return false
	}
	if len(a.defs) == 0 && a.prov.Has(provider.CapabilityTypedOutput) {
		return false
	}
	return true
}

// initialHistory copies the caller's history, prepending the agent's
// instructions when no system message leads it.
func (a *Agent) initialHistory(history []*chat.Message) []*chat.Message {
	hasSystem := len(history) > 0 && history[0].Role == chat.RoleSystem
	out := make([]*chat.Message, 0, len(history)+2)
	if a.instructions != "" && !hasSystem {
		out = append(out, chat.NewTextMessage(chat.RoleSystem, a.instructions))
	}
	return append(out, history...)
}

func (a *Agent) newChatModel() (model.ChatModel, error) {
	cfg := a.modelCfg
	cfg.Model = a.ref.ChatModel
	return a.prov.NewChatModel(cfg)
}

func (a *Agent) newEmbedder() (embedder.Embedder, error) {
	cfg := a.modelCfg
	cfg.Model = a.ref.EmbeddingsModel
	return a.prov.NewEmbedder(cfg)
}

// result builds the ChatResult skeleton; callers fill Output.
func (inv *invocation) result() *ChatResult[string] {
	return &ChatResult[string]{
		Messages:     inv.state.History[inv.baseLen:],
		FinishReason: inv.state.finishReason(),
		Metadata:     inv.state.metadata,
		Usage:        inv.state.totalUsage(),
		ID:           inv.state.responseID,
	}
}

// lastModelText returns the text of the last model turn.
func lastModelText(messages []*chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleModel {
			return messages[i].Text()
		}
	}
	return ""
}
