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

package anthropic

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
)

// Metadata keys under which thinking blocks travel on responses and are
// replayed from model messages.
const (
	metadataThinking          = "thinking"
	metadataThinkingSignature = "thinking_signature"
)

// Wire types for the Messages API.

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	TopK        *int         `json:"top_k,omitempty"`
	Stream      bool         `json:"stream"`
	System      string       `json:"system,omitempty"`
	Stop        []string     `json:"stop_sequences,omitempty"`
	Tools       []apiTool    `json:"tools,omitempty"`
	Thinking    *apiThinking `json:"thinking,omitempty"`
}

type apiThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *apiImageSource `json:"source,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type apiImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type         string      `json:"type"`
	Index        int         `json:"index"`
	Message      *apiEnvelope `json:"message,omitempty"`
	Delta        *apiDelta   `json:"delta,omitempty"`
	ContentBlock *apiContent `json:"content_block,omitempty"`
	Usage        *apiUsage   `json:"usage,omitempty"`
	Error        *apiError   `json:"error,omitempty"`
}

type apiEnvelope struct {
	ID    string    `json:"id"`
	Usage *apiUsage `json:"usage,omitempty"`
}

type apiDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// buildRequest maps a canonical request to the wire format.
func (c *Client) buildRequest(req *model.Request) (*apiRequest, error) {
	system, history := chat.SplitSystem(req.Messages)

	apiReq := &apiRequest{
		Model:       c.modelName,
		MaxTokens:   c.maxTokens,
		Stream:      true,
		System:      system,
		Temperature: c.temperature,
	}

	if opts := req.Options; opts != nil {
		if opts.Temperature != nil {
			apiReq.Temperature = opts.Temperature
		}
		if opts.MaxTokens != nil {
			apiReq.MaxTokens = *opts.MaxTokens
		}
		if opts.TopP != nil {
			apiReq.TopP = opts.TopP
		}
		if opts.TopK != nil {
			apiReq.TopK = opts.TopK
		}
		if len(opts.StopSequences) > 0 {
			apiReq.Stop = opts.StopSequences
		}
	}

	if c.enableThinking {
		temp := thinkingTemperature
		apiReq.Temperature = &temp
		apiReq.Thinking = &apiThinking{
			Type:         "enabled",
			BudgetTokens: c.thinkingBudget,
		}
	}

	for _, msg := range history {
		mapped, err := mapMessage(msg)
		if err != nil {
			return nil, err
		}
		if len(mapped.Content) > 0 {
			apiReq.Messages = append(apiReq.Messages, mapped)
		}
	}

	for _, def := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		})
	}

	return apiReq, nil
}

// mapMessage converts one canonical message into one wire message.
// Tool results stay inside a user message as tool_result blocks, which
// is the shape the API requires.
func mapMessage(msg *chat.Message) (apiMessage, error) {
	role := "user"
	if msg.Role == chat.RoleModel {
		role = "assistant"
	}

	wire := apiMessage{Role: role}

	// Thinking blocks must be replayed ahead of the content that
	// followed them, signature intact.
	if role == "assistant" {
		if thinking, ok := msg.Metadata[metadataThinking].(string); ok && thinking != "" {
			signature, _ := msg.Metadata[metadataThinkingSignature].(string)
			wire.Content = append(wire.Content, apiContent{
				Type:      "thinking",
				Thinking:  thinking,
				Signature: signature,
			})
		}
	}

	for _, p := range msg.Parts {
		switch part := p.(type) {
		case chat.TextPart:
			if part.Text != "" {
				wire.Content = append(wire.Content, apiContent{Type: "text", Text: part.Text})
			}

		case chat.DataPart:
			block, ok := mapDataPart(part)
			if !ok {
				slog.Warn("Skipping unsupported inline data part",
					"provider", "anthropic",
					"mime_type", part.MIMEType,
					"size", len(part.Bytes))
				continue
			}
			wire.Content = append(wire.Content, block)

		case chat.LinkPart:
			if strings.HasPrefix(part.MIMEType, "image/") {
				wire.Content = append(wire.Content, apiContent{
					Type:   "image",
					Source: &apiImageSource{Type: "url", URL: part.URI},
				})
			} else {
				wire.Content = append(wire.Content, apiContent{
					Type: "text",
					Text: fmt.Sprintf("[linked content: %s (%s)]", part.URI, part.MIMEType),
				})
			}

		case chat.ToolCallPart:
			input := part.Args
			if input == nil {
				input = map[string]any{}
			}
			wire.Content = append(wire.Content, apiContent{
				Type:  "tool_use",
				ID:    part.ID,
				Name:  part.Name,
				Input: input,
			})

		case chat.ToolResultPart:
			if part.ID == "" {
				return apiMessage{}, fmt.Errorf("anthropic: tool result for %q has no call ID", part.Name)
			}
			content, err := encodeToolResult(part)
			if err != nil {
				return apiMessage{}, fmt.Errorf("anthropic: tool result %q: %w", part.ID, err)
			}
			// The API rejects empty tool results.
			if content == "" {
				content = "(no output)"
			}
			wire.Content = append(wire.Content, apiContent{
				Type:      "tool_result",
				ToolUseID: part.ID,
				Content:   content,
				IsError:   part.IsError(),
			})
		}
	}

	return wire, nil
}

func mapDataPart(part chat.DataPart) (apiContent, bool) {
	mimeType := part.MIMEType
	if mimeType == "" {
		mimeType = chat.DetectImageMIMEType(part.Bytes)
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		if len(part.Bytes) > maxImageSize {
			return apiContent{}, false
		}
		return apiContent{
			Type: "image",
			Source: &apiImageSource{
				Type:      "base64",
				MediaType: mimeType,
				Data:      base64.StdEncoding.EncodeToString(part.Bytes),
			},
		}, true

	case strings.HasPrefix(mimeType, "text/"):
		if utf8.Valid(part.Bytes) {
			return apiContent{Type: "text", Text: string(part.Bytes)}, true
		}
		return apiContent{
			Type: "text",
			Text: fmt.Sprintf("[attachment %s: %d bytes of %s]", part.Name, len(part.Bytes), mimeType),
		}, true

	default:
		return apiContent{}, false
	}
}

func encodeToolResult(result chat.ToolResultPart) (string, error) {
	if result.IsError() {
		return result.Error, nil
	}
	if s, ok := result.Result.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(result.Result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func mapStopReason(reason string) chat.FinishReason {
	switch reason {
	case "tool_use":
		return chat.FinishReasonToolCalls
	case "max_tokens":
		return chat.FinishReasonLength
	case "end_turn", "stop_sequence":
		return chat.FinishReasonStop
	case "":
		return ""
	default:
		return chat.FinishReasonUnspecified
	}
}
