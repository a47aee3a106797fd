package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
)

func TestNew_Defaults(t *testing.T) {
	client, err := New(Config{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	if client.Name() != defaultModel {
		t.Errorf("Name() = %v, want %v", client.Name(), defaultModel)
	}
	if client.maxTokens != defaultMaxTokens {
		t.Errorf("maxTokens = %v, want %v", client.maxTokens, defaultMaxTokens)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without API key should fail")
	}
}

func TestBuildRequest_Mapping(t *testing.T) {
	client, _ := New(Config{APIKey: "sk-ant-test"})

	req := &model.Request{
		Messages: []*chat.Message{
			chat.NewTextMessage(chat.RoleSystem, "Be brief."),
			chat.NewTextMessage(chat.RoleUser, "weather?"),
			chat.NewMessage(chat.RoleModel, chat.ToolCallPart{
				ID:   "toolu_1",
				Name: "weather",
				Args: map[string]any{"city": "Izmir"},
			}),
			chat.NewMessage(chat.RoleUser, chat.ToolResultPart{
				ID: "toolu_1", Name: "weather", Result: "rainy",
			}),
		},
	}

	apiReq, err := client.buildRequest(req)
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}

	if apiReq.System != "Be brief." {
		t.Errorf("System = %q", apiReq.System)
	}
	if len(apiReq.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(apiReq.Messages))
	}

	assistant := apiReq.Messages[1]
	if assistant.Role != "assistant" || len(assistant.Content) != 1 {
		t.Fatalf("assistant = %+v", assistant)
	}
	toolUse := assistant.Content[0]
	if toolUse.Type != "tool_use" || toolUse.ID != "toolu_1" || toolUse.Input["city"] != "Izmir" {
		t.Errorf("tool_use = %+v", toolUse)
	}

	// Tool results stay inside a user message, one tool_result block each.
	resultMsg := apiReq.Messages[2]
	if resultMsg.Role != "user" || len(resultMsg.Content) != 1 {
		t.Fatalf("result message = %+v", resultMsg)
	}
	block := resultMsg.Content[0]
	if block.Type != "tool_result" || block.ToolUseID != "toolu_1" || block.Content != "rainy" {
		t.Errorf("tool_result = %+v", block)
	}
}

func TestBuildRequest_EmptyToolResult(t *testing.T) {
	client, _ := New(Config{APIKey: "sk-ant-test"})

	req := &model.Request{
		Messages: []*chat.Message{
			chat.NewMessage(chat.RoleUser, chat.ToolResultPart{
				ID: "toolu_2", Name: "noop", Result: "",
			}),
		},
	}

	apiReq, err := client.buildRequest(req)
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}
	if got := apiReq.Messages[0].Content[0].Content; got != "(no output)" {
		t.Errorf("empty result content = %q, want placeholder", got)
	}
}

func TestMapDataPart_Text(t *testing.T) {
	block, ok := mapDataPart(chat.DataPart{
		Bytes:    []byte("hello"),
		MIMEType: "text/plain",
	})
	if !ok || block.Type != "text" || block.Text != "hello" {
		t.Errorf("block = %+v, ok = %v", block, ok)
	}

	// An undecodable text attachment degrades to a description instead of
	// vanishing from the request.
	block, ok = mapDataPart(chat.DataPart{
		Name:     "notes.txt",
		Bytes:    []byte{0xff, 0xfe, 0xfd},
		MIMEType: "text/plain",
	})
	if !ok {
		t.Fatal("invalid UTF-8 text should still map to a block")
	}
	if block.Type != "text" || !strings.Contains(block.Text, "notes.txt") || !strings.Contains(block.Text, "text/plain") {
		t.Errorf("fallback block = %+v", block)
	}
}

func TestBuildRequest_MissingResultID(t *testing.T) {
	client, _ := New(Config{APIKey: "sk-ant-test"})

	req := &model.Request{
		Messages: []*chat.Message{
			chat.NewMessage(chat.RoleUser, chat.ToolResultPart{Name: "weather", Result: "x"}),
		},
	}

	if _, err := client.buildRequest(req); err == nil {
		t.Fatal("buildRequest() should reject tool results without a call ID")
	}
}

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") == "" {
			t.Error("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") != apiVersion {
			t.Errorf("anthropic-version = %s", r.Header.Get("anthropic-version"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, event := range events {
			fmt.Fprintf(w, "data: %s\n\n", event)
		}
	}))
}

func TestSendStream_TextAndUsage(t *testing.T) {
	server := sseServer(t, []string{
		`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":9}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		`{"type":"message_stop"}`,
	})
	defer server.Close()

	client, _ := New(Config{APIKey: "sk-ant-test", BaseURL: server.URL})

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
	if usage.PromptTokens != 9 || usage.ResponseTokens != 2 || usage.TotalTokens != 11 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestSendStream_ToolUse(t *testing.T) {
	server := sseServer(t, []string{
		`{"type":"message_start","message":{"id":"msg_2"}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"weather"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Izmir\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	})
	defer server.Close()

	client, _ := New(Config{APIKey: "sk-ant-test", BaseURL: server.URL})

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
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	if calls[0].ID != "toolu_9" || calls[0].Name != "weather" || calls[0].Args["city"] != "Izmir" {
		t.Errorf("call = %+v", calls[0])
	}
	if finish != chat.FinishReasonToolCalls {
		t.Errorf("finish = %v, want tool_calls", finish)
	}
}

func TestSendStream_ThinkingMetadata(t *testing.T) {
	server := sseServer(t, []string{
		`{"type":"message_start","message":{"id":"msg_3"}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Let me check."}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig123"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Done."}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		`{"type":"message_stop"}`,
	})
	defer server.Close()

	client, _ := New(Config{APIKey: "sk-ant-test", BaseURL: server.URL})

	responses, err := model.Drain(client.SendStream(context.Background(), &model.Request{
		Messages: []*chat.Message{chat.NewTextMessage(chat.RoleUser, "hi")},
	}))
	if err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}

	final := responses[len(responses)-1]
	if final.Metadata[metadataThinking] != "Let me check." {
		t.Errorf("thinking metadata = %v", final.Metadata)
	}
	if final.Metadata[metadataThinkingSignature] != "sig123" {
		t.Errorf("signature metadata = %v", final.Metadata)
	}
}

func TestSendStream_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens required"}}`)
	}))
	defer server.Close()

	client, _ := New(Config{APIKey: "sk-ant-test", BaseURL: server.URL})

	_, err := model.Drain(client.SendStream(context.Background(), &model.Request{
		Messages: []*chat.Message{chat.NewTextMessage(chat.RoleUser, "hi")},
	}))
	if err == nil {
		t.Fatal("SendStream() should surface API errors")
	}
	if !strings.Contains(err.Error(), "max_tokens required") {
		t.Errorf("error = %v", err)
	}
}
