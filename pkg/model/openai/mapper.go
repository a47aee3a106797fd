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

package openai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/maestro/pkg/chat"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// Wire types for the chat-completions API.

type apiRequest struct {
	Model          string              `json:"model"`
	Messages       []apiMessage        `json:"messages"`
	MaxTokens      *int                `json:"max_tokens,omitempty"`
	Temperature    *float64            `json:"temperature,omitempty"`
	TopP           *float64            `json:"top_p,omitempty"`
	Stop           []string            `json:"stop,omitempty"`
	Stream         bool                `json:"stream"`
	StreamOptions  *apiStreamOptions   `json:"stream_options,omitempty"`
	Tools          []apiTool           `json:"tools,omitempty"`
	ToolChoice     string              `json:"tool_choice,omitempty"`
	ResponseFormat *apiResponseFormat  `json:"response_format,omitempty"`
}

type apiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    any           `json:"content"` // string or []apiContentPart
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *apiImageURL `json:"image_url,omitempty"`
}

type apiImageURL struct {
	URL string `json:"url"`
}

type apiTool struct {
	Type     string          `json:"type"`
	Function apiToolFunction `json:"function"`
}

type apiToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type apiToolCall struct {
	Index    *int            `json:"index,omitempty"`
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type,omitempty"`
	Function apiFunctionCall `json:"function"`
}

type apiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type apiResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema *apiJSONSchema `json:"json_schema,omitempty"`
}

type apiJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiStreamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content   string        `json:"content,omitempty"`
			ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *apiUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// buildRequest maps a canonical request to the wire format.
func (c *Client) buildRequest(req *model.Request) (*apiRequest, error) {
	system, history := chat.SplitSystem(req.Messages)

	messages := make([]apiMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, apiMessage{Role: "system", Content: system})
	}

	for _, msg := range history {
		mapped, err := c.mapMessage(msg)
		if err != nil {
			return nil, err
		}
		messages = append(messages, mapped...)
	}

	maxTokens := c.maxTokens
	apiReq := &apiRequest{
		Model:         c.modelName,
		Messages:      messages,
		MaxTokens:     &maxTokens,
		Temperature:   c.temperature,
		Stream:        true,
		StreamOptions: &apiStreamOptions{IncludeUsage: true},
	}

	if opts := req.Options; opts != nil {
		if opts.Temperature != nil {
			apiReq.Temperature = opts.Temperature
		}
		if opts.MaxTokens != nil {
			apiReq.MaxTokens = opts.MaxTokens
		}
		if opts.TopP != nil {
			apiReq.TopP = opts.TopP
		}
		if len(opts.StopSequences) > 0 {
			apiReq.Stop = opts.StopSequences
		}
		if opts.ResponseSchema != nil {
			name := opts.ResponseSchemaName
			if name == "" {
				name = "response"
			}
			apiReq.ResponseFormat = &apiResponseFormat{
				Type: "json_schema",
				JSONSchema: &apiJSONSchema{
					Name:   name,
					Schema: opts.ResponseSchema,
					Strict: true,
				},
			}
		} else if opts.ResponseMIMEType == "application/json" {
			apiReq.ResponseFormat = &apiResponseFormat{Type: "json_object"}
		}
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = mapTools(req.Tools)
		apiReq.ToolChoice = "auto"
	}

	return apiReq, nil
}

// mapMessage converts one canonical message into one or more wire
// messages. Tool results fan out: the API wants one "tool" message per
// result, with matching call IDs.
func (c *Client) mapMessage(msg *chat.Message) ([]apiMessage, error) {
	if results := msg.ToolResults(); len(results) > 0 {
		out := make([]apiMessage, 0, len(results))
		for _, result := range results {
			content, err := encodeToolResult(result)
			if err != nil {
				return nil, fmt.Errorf("%s: tool result %q: %w", c.providerName, result.ID, err)
			}
			out = append(out, apiMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: result.ID,
			})
		}
		return out, nil
	}

	wire := apiMessage{Role: mapRole(msg.Role)}

	var contentParts []apiContentPart
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case chat.TextPart:
			if part.Text != "" {
				contentParts = append(contentParts, apiContentPart{Type: "text", Text: part.Text})
			}

		case chat.DataPart:
			mapped, ok := mapDataPart(part)
			if !ok {
				slog.Warn("Skipping unsupported inline data part",
					"provider", c.providerName,
					"mime_type", part.MIMEType,
					"size", len(part.Bytes))
				continue
			}
			contentParts = append(contentParts, mapped)

		case chat.LinkPart:
			if strings.HasPrefix(part.MIMEType, "image/") {
				contentParts = append(contentParts, apiContentPart{
					Type:     "image_url",
					ImageURL: &apiImageURL{URL: part.URI},
				})
			} else {
				contentParts = append(contentParts, apiContentPart{
					Type: "text",
					Text: fmt.Sprintf("[linked content: %s (%s)]", part.URI, part.MIMEType),
				})
			}

		case chat.ToolCallPart:
			args, err := json.Marshal(part.Args)
			if err != nil {
				return nil, fmt.Errorf("%s: tool call %q: failed to marshal arguments: %w", c.providerName, part.ID, err)
			}
			wire.ToolCalls = append(wire.ToolCalls, apiToolCall{
				ID:   part.ID,
				Type: "function",
				Function: apiFunctionCall{
					Name:      part.Name,
					Arguments: string(args),
				},
			})
		}
	}

	switch {
	case len(contentParts) == 1 && contentParts[0].Type == "text":
		wire.Content = contentParts[0].Text
	case len(contentParts) > 0:
		wire.Content = contentParts
	default:
		wire.Content = ""
	}

	return []apiMessage{wire}, nil
}

func mapRole(role chat.Role) string {
	switch role {
	case chat.RoleModel:
		return "assistant"
	case chat.RoleSystem:
		return "system"
	default:
		return "user"
	}
}

// mapDataPart converts an inline payload. Images become data URLs; text
// payloads are decoded and embedded as text.
func mapDataPart(part chat.DataPart) (apiContentPart, bool) {
	mimeType := part.MIMEType
	if mimeType == "" {
		mimeType = chat.DetectImageMIMEType(part.Bytes)
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		if len(part.Bytes) > maxImageSize {
			return apiContentPart{}, false
		}
		url := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(part.Bytes))
		return apiContentPart{Type: "image_url", ImageURL: &apiImageURL{URL: url}}, true

	case strings.HasPrefix(mimeType, "text/"):
		if utf8.Valid(part.Bytes) {
			return apiContentPart{Type: "text", Text: string(part.Bytes)}, true
		}
		return apiContentPart{
			Type: "text",
			Text: fmt.Sprintf("[attachment %s: %d bytes of %s]", part.Name, len(part.Bytes), mimeType),
		}, true

	default:
		return apiContentPart{}, false
	}
}

// encodeToolResult renders a tool result as the string content of a tool
// message. Errors travel in a JSON envelope so the model can tell them
// apart from payloads.
func encodeToolResult(result chat.ToolResultPart) (string, error) {
	if result.IsError() {
		data, err := json.Marshal(map[string]string{"error": result.Error})
		if err != nil {
			return "", err
		}
		return string(data), nil
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

func mapTools(tools []tool.Definition) []apiTool {
	out := make([]apiTool, len(tools))
	for i, def := range tools {
		out[i] = apiTool{
			Type: "function",
			Function: apiToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		}
	}
	return out
}

func mapFinishReason(reason string) chat.FinishReason {
	switch reason {
	case "stop":
		return chat.FinishReasonStop
	case "length":
		return chat.FinishReasonLength
	case "tool_calls", "function_call":
		return chat.FinishReasonToolCalls
	case "content_filter":
		return chat.FinishReasonContentFilter
	case "":
		return ""
	default:
		return chat.FinishReasonUnspecified
	}
}
