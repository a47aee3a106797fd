package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/schema"
)

func citySchema() *schema.Schema {
	return schema.Object(map[string]*schema.Schema{
		"city":    schema.String("City name"),
		"country": schema.String("Country name"),
	}, "city", "country")
}

func TestTypedOrchestrator_NativeSchema(t *testing.T) {
	m := &scriptedModel{turns: [][]*model.Response{{
		textFrame(`{"city":"Chicago",`),
		textFrame(`"country":"United States"}`),
		doneFrame(chat.FinishReasonStop, nil),
	}}}

	state := newState(t, "The windy city in the US of A")
	orch := &TypedOutputStreamingOrchestrator{Schema: citySchema()}
	drainRun(t, orch, m, state)

	// The request carried the schema as a response format.
	opts := m.requests[0].Options
	if opts == nil || opts.ResponseSchema == nil {
		t.Fatal("request options should carry the response schema")
	}
	if opts.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q", opts.ResponseMIMEType)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(state.payload), &out); err != nil {
		t.Fatalf("payload %q is not JSON: %v", state.payload, err)
	}
	if out["city"] != "Chicago" {
		t.Errorf("payload = %v", out)
	}
	checkInvariants(t, state.History)
}

func TestTypedOrchestrator_ReturnResultTool(t *testing.T) {
	m := &scriptedModel{turns: [][]*model.Response{{
		textFrame("Let me structure that."),
		callFrame(chat.ToolCallPart{
			ID:   "call_rr",
			Name: ReturnResultToolName,
			Args: map[string]any{"city": "Chicago", "country": "United States"},
		}),
		doneFrame(chat.FinishReasonToolCalls, nil),
	}}}

	state := newState(t, "The windy city in the US of A")
	orch := &TypedOutputStreamingOrchestrator{Schema: citySchema(), UseTool: true}
	chunks := drainRun(t, orch, m, state)

	// Exactly one model dispatch: the return_result call ends the loop.
	if len(m.requests) != 1 {
		t.Fatalf("model called %d times, want 1", len(m.requests))
	}

	// The synthetic tool was offered on the wire.
	var offered bool
	for _, def := range m.requests[0].Tools {
		if def.Name == ReturnResultToolName {
			offered = true
			if def.Parameters["type"] != "object" {
				t.Errorf("return_result parameters = %v", def.Parameters)
			}
		}
	}
	if !offered {
		t.Error("return_result tool was not offered to the model")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(state.payload), &out); err != nil {
		t.Fatalf("payload %q is not JSON: %v", state.payload, err)
	}
	if out["city"] != "Chicago" || out["country"] != "United States" {
		t.Errorf("payload = %v", out)
	}

	// Ancillary text is suppressed from the stream but preserved.
	for _, c := range chunks {
		if c.Text != "" {
			t.Errorf("unexpected streamed text %q", c.Text)
		}
	}
	if state.metadata[metadataSuppressedText] != "Let me structure that." {
		t.Errorf("metadata = %v", state.metadata)
	}

	final := chunks[len(chunks)-1]
	if !final.Final || final.FinishReason != chat.FinishReasonStop {
		t.Errorf("terminal chunk = %+v", final)
	}
	checkInvariants(t, state.History)
}

func TestTypedOrchestrator_ValidationFailure(t *testing.T) {
	m := &scriptedModel{turns: [][]*model.Response{{
		textFrame(`{"city":"Chicago"}`),
		doneFrame(chat.FinishReasonStop, nil),
	}}}

	state := newState(t, "prompt")
	orch := &TypedOutputStreamingOrchestrator{Schema: citySchema()}

	var failed error
	for _, err := range orch.Run(t.Context(), m, state) {
		if err != nil {
			failed = err
			break
		}
	}
	if failed == nil {
		t.Fatal("payload missing a required property should fail validation")
	}
	if !strings.Contains(failed.Error(), "schema") {
		t.Errorf("error = %v", failed)
	}
}

func TestValidatePayload(t *testing.T) {
	s := citySchema()

	if err := ValidatePayload(`{"city":"Oslo","country":"Norway"}`, s); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
	if err := ValidatePayload(`{"city":"Oslo"}`, s); err == nil {
		t.Error("payload missing required property should fail")
	}
	if err := ValidatePayload(`not json`, s); err == nil {
		t.Error("non-JSON payload should fail")
	}
	if err := ValidatePayload(`{"city":1,"country":"Norway"}`, s); err == nil {
		t.Error("wrong property type should fail")
	}
}
