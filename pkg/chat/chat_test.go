package chat

import (
	"strings"
	"testing"
)

func TestMessage_Accessors(t *testing.T) {
	m := NewMessage(RoleModel,
		TextPart{Text: "checking "},
		ToolCallPart{ID: "call_1", Name: "weather", Args: map[string]any{"city": "Ankara"}},
		TextPart{Text: "now"},
	)

	if m.Text() != "checking now" {
		t.Errorf("Text() = %q", m.Text())
	}
	if !m.HasToolCalls() {
		t.Error("HasToolCalls() = false")
	}
	calls := m.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_1" {
		t.Errorf("ToolCalls() = %+v", calls)
	}
	if len(m.ToolResults()) != 0 {
		t.Errorf("ToolResults() = %+v", m.ToolResults())
	}

	var nilMsg *Message
	if nilMsg.Text() != "" || nilMsg.HasToolCalls() {
		t.Error("nil message accessors should be zero-valued")
	}
}

func TestSplitSystem(t *testing.T) {
	history := []*Message{
		NewTextMessage(RoleSystem, "be terse"),
		NewTextMessage(RoleUser, "hi"),
	}
	system, rest := SplitSystem(history)
	if system != "be terse" || len(rest) != 1 {
		t.Errorf("SplitSystem() = %q, %d messages", system, len(rest))
	}

	system, rest = SplitSystem(history[1:])
	if system != "" || len(rest) != 1 {
		t.Errorf("SplitSystem() without system = %q, %d messages", system, len(rest))
	}
}

func TestClone_Independent(t *testing.T) {
	m := NewTextMessage(RoleUser, "hi")
	m.SetMetadata("k", "v")

	clone := m.Clone()
	clone.Parts = append(clone.Parts, TextPart{Text: "!"})
	clone.SetMetadata("k", "changed")

	if len(m.Parts) != 1 {
		t.Error("clone shares the parts slice")
	}
	if m.Metadata["k"] != "v" {
		t.Error("clone shares the metadata map")
	}
}

func TestValidateAlternation(t *testing.T) {
	valid := []*Message{
		NewTextMessage(RoleSystem, "s"),
		NewTextMessage(RoleUser, "u"),
		NewTextMessage(RoleModel, "m"),
		NewTextMessage(RoleUser, "u"),
	}
	if err := ValidateAlternation(valid); err != nil {
		t.Errorf("valid history rejected: %v", err)
	}

	consecutive := []*Message{
		NewTextMessage(RoleUser, "u"),
		NewTextMessage(RoleUser, "u"),
	}
	if err := ValidateAlternation(consecutive); err == nil {
		t.Error("consecutive user messages should fail")
	}

	lateSystem := []*Message{
		NewTextMessage(RoleUser, "u"),
		NewTextMessage(RoleSystem, "s"),
	}
	if err := ValidateAlternation(lateSystem); err == nil {
		t.Error("system message after the head should fail")
	}
}

func TestValidateToolPairing(t *testing.T) {
	paired := []*Message{
		NewTextMessage(RoleUser, "u"),
		NewMessage(RoleModel, ToolCallPart{ID: "call_1", Name: "weather"}),
		NewMessage(RoleUser, ToolResultPart{ID: "call_1", Name: "weather", Result: "sunny"}),
	}
	if err := ValidateToolPairing(paired); err != nil {
		t.Errorf("paired history rejected: %v", err)
	}

	unmatched := paired[:2]
	if err := ValidateToolPairing(unmatched); err == nil {
		t.Error("unmatched call should fail")
	}

	emptyID := []*Message{NewMessage(RoleModel, ToolCallPart{Name: "weather"})}
	if err := ValidateToolPairing(emptyID); err == nil {
		t.Error("empty call ID should fail")
	}

	wrongName := []*Message{
		NewMessage(RoleModel, ToolCallPart{ID: "call_1", Name: "weather"}),
		NewMessage(RoleUser, ToolResultPart{ID: "call_1", Name: "other"}),
	}
	if err := ValidateToolPairing(wrongName); err == nil || !strings.Contains(err.Error(), "name") {
		t.Errorf("name mismatch should fail, got %v", err)
	}
}

func TestDetectImageMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte("\x89PNG\r\n\x1a\n...."), "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "image/jpeg"},
		{"gif", []byte("GIF89a...."), "image/gif"},
		{"webp", append([]byte("RIFF\x00\x00\x00\x00"), []byte("WEBP")...), "image/webp"},
		{"unknown", []byte("plain text"), ""},
		{"short", []byte{0x89}, ""},
	}
	for _, tt := range tests {
		if got := DetectImageMIMEType(tt.data); got != tt.want {
			t.Errorf("%s: DetectImageMIMEType() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestUsage(t *testing.T) {
	var u Usage
	if !u.IsZero() {
		t.Error("zero usage should be zero")
	}
	u.Add(&Usage{PromptTokens: 10, ResponseTokens: 5, TotalTokens: 15})
	u.Add(nil)
	u.Add(&Usage{PromptTokens: 1, ResponseTokens: 1, TotalTokens: 2})
	if u.PromptTokens != 11 || u.ResponseTokens != 6 || u.TotalTokens != 17 {
		t.Errorf("usage = %+v", u)
	}
	var nilUsage *Usage
	if !nilUsage.IsZero() {
		t.Error("nil usage should be zero")
	}
}
