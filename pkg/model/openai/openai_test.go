package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
)

func TestNew_Defaults(t *testing.T) {
	client, err := New(Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	if client.Name() != "gpt-4o" {
		t.Errorf("Name() = %v, want gpt-4o", client.Name())
	}
	if client.baseURL != defaultBaseURL {
		t.Errorf("baseURL = %v, want %v", client.baseURL, defaultBaseURL)
	}
	if client.maxTokens != defaultMaxTokens {
		t.Errorf("maxTokens = %v, want %v", client.maxTokens, defaultMaxTokens)
	}
	if client.providerName != "openai" {
		t.Errorf("providerName = %v, want openai", client.providerName)
	}
}

func TestNew_RequireAPIKey(t *testing.T) {
	if _, err := New(Config{RequireAPIKey: true}); err == nil {
		t.Fatal("New() with RequireAPIKey and no key should fail")
	}

	// Local backends construct without a key.
	client, err := New(Config{}, WithProviderName("ollama"), WithBaseURL("http://localhost:11434/v1"))
	if err != nil {
		t.Fatalf("New() without key error = %v, want nil", err)
	}
	if client.providerName != "ollama" {
		t.Errorf("providerName = %v, want ollama", client.providerName)
	}
}

func TestBuildRequest_SystemAndText(t *testing.T) {
	client, _ := New(Config{APIKey: "sk-test", Model: "gpt-4o-mini"})

	req := &model.Request{
		Messages: []*chat.Message{
			chat.NewTextMessage(chat.RoleSystem, "You are terse."),
			chat.NewTextMessage(chat.RoleUser, "hello"),
		},
	}

	apiReq, err := client.buildRequest(req)
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}

	if apiReq.Model != "gpt-4o-mini" {
		t.Errorf("Model = %v, want gpt-4o-mini", apiReq.Model)
	}
	if !apiReq.Stream {
		t.Error("Stream should be true")
	}
	if len(apiReq.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(apiReq.Messages))
	}
	if apiReq.Messages[0].Role != "system" || apiReq.Messages[0].Content != "You are terse." {
		t.Errorf("system message = %+v", apiReq.Messages[0])
	}
	if apiReq.Messages[1].Role != "user" || apiReq.Messages[1].Content != "hello" {
		t.Errorf("user message = %+v", apiReq.Messages[1])
	}
}

func TestBuildRequest_ToolRoundTrip(t *testing.T) {
	client, _ := New(Config{APIKey: "sk-test"})

	req := &model.Request{
		Messages: []*chat.Message{
			chat.NewTextMessage(chat.RoleUser, "what is the weather?"),
			chat.NewMessage(chat.RoleModel, chat.ToolCallPart{
				ID:   "call_1",
				Name: "weather",
				Args: map[string]any{"city": "Ankara"},
			}),
			chat.NewMessage(chat.RoleUser,
				chat.ToolResultPart{ID: "call_1", Name: "weather", Result: "sunny"},
				chat.ToolResultPart{ID: "call_2", Name: "weather", Error: "city not found"},
			),
		},
		Tools: []tool.Definition{
			{Name: "weather", Description: "Get weather", Parameters: map[string]any{"type": "object"}},
		},
	}

	apiReq, err := client.buildRequest(req)
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}

	// user, assistant w/ tool_calls, then one tool message per result
	if len(apiReq.Messages) != 4 {
		t.Fatalf("len(Messages) = %d, want 4", len(apiReq.Messages))
	}

	assistant := apiReq.Messages[1]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant message = %+v", assistant)
	}
	if assistant.ToolCalls[0].ID != "call_1" || assistant.ToolCalls[0].Function.Name != "weather" {
		t.Errorf("tool call = %+v", assistant.ToolCalls[0])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(assistant.ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["city"] != "Ankara" {
		t.Errorf("args = %v", args)
	}

	first := apiReq.Messages[2]
	if first.Role != "tool" || first.ToolCallID != "call_1" || first.Content != "sunny" {
		t.Errorf("tool result message = %+v", first)
	}
	second := apiReq.Messages[3]
	if second.ToolCallID != "call_2" || !strings.Contains(second.Content.(string), "city not found") {
		t.Errorf("error result message = %+v", second)
	}

	if len(apiReq.Tools) != 1 || apiReq.ToolChoice != "auto" {
		t.Errorf("Tools = %+v, ToolChoice = %v", apiReq.Tools, apiReq.ToolChoice)
	}
}

func TestBuildRequest_ResponseSchema(t *testing.T) {
	client, _ := New(Config{APIKey: "sk-test"})

	req := &model.Request{
		Messages: []*chat.Message{chat.NewTextMessage(chat.RoleUser, "hi")},
		Options: &model.Options{
			ResponseSchema:     map[string]any{"type": "object"},
			ResponseSchemaName: "weather_report",
		},
	}

	apiReq, err := client.buildRequest(req)
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}
	if apiReq.ResponseFormat == nil || apiReq.ResponseFormat.Type != "json_schema" {
		t.Fatalf("ResponseFormat = %+v", apiReq.ResponseFormat)
	}
	if apiReq.ResponseFormat.JSONSchema.Name != "weather_report" || !apiReq.ResponseFormat.JSONSchema.Strict {
		t.Errorf("JSONSchema = %+v", apiReq.ResponseFormat.JSONSchema)
	}
}

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, event := range events {
			fmt.Fprintf(w, "data: %s\n\n", event)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestSendStream_TextDeltas(t *testing.T) {
	server := sseServer(t, []string{
		`{"id":"resp-1","choices":[{"delta":{"content":"Hel"}}]}`,
		`{"id":"resp-1","choices":[{"delta":{"content":"lo"}}]}`,
		`{"id":"resp-1","choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"resp-1","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`,
	})
	defer server.Close()

	client, _ := New(Config{APIKey: "sk-test", BaseURL: server.URL})

	responses, err := model.Drain(client.SendStream(context.Background(), &model.Request{
		Messages: []*chat.Message{chat.NewTextMessage(chat.RoleUser, "hi")},
	}))
	if err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}

	var text strings.Builder
	var finish chat.FinishReason
	var usage chat.Usage
	for _, resp := range responses {
		text.WriteString(resp.Text())
		if resp.FinishReason != "" {
			finish = resp.FinishReason
		}
		usage.Add(resp.Usage)
	}

	if text.String() != "Hello" {
		t.Errorf("text = %q, want Hello", text.String())
	}
	if finish != chat.FinishReasonStop {
		t.Errorf("finish = %v, want stop", finish)
	}
	if usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestSendStream_ToolCallFragments(t *testing.T) {
	server := sseServer(t, []string{
		`{"id":"resp-2","choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_abc","function":{"name":"weather","arguments":""}}]}}]}`,
		`{"id":"resp-2","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
		`{"id":"resp-2","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Ankara\"}"}}]}}]}`,
		`{"id":"resp-2","choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer server.Close()

	client, _ := New(Config{APIKey: "sk-test", BaseURL: server.URL})

	responses, err := model.Drain(client.SendStream(context.Background(), &model.Request{
		Messages: []*chat.Message{chat.NewTextMessage(chat.RoleUser, "weather?")},
	}))
	if err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}

	var calls []chat.ToolCallPart
	var finish chat.FinishReason
	for _, resp := range responses {
		if resp.Message != nil {
			calls = append(calls, resp.Message.ToolCalls()...)
		}
		if resp.FinishReason != "" {
			finish = resp.FinishReason
		}
	}

	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1 (complete calls must be emitted exactly once)", len(calls))
	}
	if calls[0].ID != "call_abc" || calls[0].Name != "weather" {
		t.Errorf("call = %+v", calls[0])
	}
	if calls[0].Args["city"] != "Ankara" {
		t.Errorf("args = %v", calls[0].Args)
	}
	if finish != chat.FinishReasonToolCalls {
		t.Errorf("finish = %v, want tool_calls", finish)
	}
}

func TestSendStream_SynthesizesMissingCallID(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"lookup","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer server.Close()

	client, _ := New(Config{APIKey: "sk-test", BaseURL: server.URL})

	responses, err := model.Drain(client.SendStream(context.Background(), &model.Request{
		Messages: []*chat.Message{chat.NewTextMessage(chat.RoleUser, "go")},
	}))
	if err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}

	var calls []chat.ToolCallPart
	for _, resp := range responses {
		if resp.Message != nil {
			calls = append(calls, resp.Message.ToolCalls()...)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	if !strings.HasPrefix(calls[0].ID, "call_") || len(calls[0].ID) <= len("call_") {
		t.Errorf("ID = %q, want synthesized non-empty ID", calls[0].ID)
	}
}

func TestSendStream_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}))
	defer server.Close()

	client, _ := New(Config{APIKey: "sk-bad", BaseURL: server.URL})

	_, err := model.Drain(client.SendStream(context.Background(), &model.Request{
		Messages: []*chat.Message{chat.NewTextMessage(chat.RoleUser, "hi")},
	}))
	if err == nil {
		t.Fatal("SendStream() should surface API errors")
	}
	if !strings.Contains(err.Error(), "Incorrect API key") {
		t.Errorf("error = %v, want API message surfaced", err)
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s, want /models", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`)
	}))
	defer server.Close()

	client, _ := New(Config{APIKey: "sk-test", BaseURL: server.URL})

	names, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(names) != 2 || names[0] != "gpt-4o" || names[1] != "gpt-4o-mini" {
		t.Errorf("names = %v", names)
	}
}
