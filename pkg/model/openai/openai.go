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

// Package openai implements model.ChatModel against the chat-completions
// API.
//
// The same client serves every OpenAI-compatible backend (OpenRouter,
// Together, Mistral, Cohere's compat endpoint, Ollama) through BaseURL,
// header and provider-name options; only api.openai.com is the default.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/maestro/pkg/httpclient"
	"github.com/kadirpekel/maestro/pkg/model"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second

	// Max inline image size accepted by the API.
	maxImageSize = 20 * 1024 * 1024
)

// Config configures the client.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	MaxTokens    int
	Temperature  *float64
	Timeout      time.Duration
	MaxRetries   int
	ExtraHeaders map[string]string

	// ProviderName labels errors and logs when the client serves an
	// OpenAI-compatible backend. Default: "openai".
	ProviderName string

	// RequireAPIKey controls whether construction fails without a key.
	// Local backends (Ollama) set this false.
	RequireAPIKey bool
}

// Option configures the client.
type Option func(*Config)

// WithModel sets the model name.
func WithModel(name string) Option {
	return func(c *Config) {
		c.Model = name
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithMaxTokens sets the maximum output tokens.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) {
		c.MaxTokens = maxTokens
	}
}

// WithTemperature sets the temperature.
func WithTemperature(temp float64) Option {
	return func(c *Config) {
		c.Temperature = &temp
	}
}

// WithExtraHeaders adds headers to every request (OpenRouter referer,
// organization IDs).
func WithExtraHeaders(headers map[string]string) Option {
	return func(c *Config) {
		c.ExtraHeaders = headers
	}
}

// WithProviderName labels the client for errors and logs.
func WithProviderName(name string) Option {
	return func(c *Config) {
		c.ProviderName = name
	}
}

// Client is a chat-completions implementation of model.ChatModel.
type Client struct {
	httpClient   *httpclient.Client
	apiKey       string
	baseURL      string
	modelName    string
	maxTokens    int
	temperature  *float64
	extraHeaders map[string]string
	providerName string
}

// New creates a new client.
func New(cfg Config, opts ...Option) (*Client, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	providerName := cfg.ProviderName
	if providerName == "" {
		providerName = "openai"
	}

	if cfg.APIKey == "" && cfg.RequireAPIKey {
		return nil, fmt.Errorf("%s: API key is required", providerName)
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &Client{
		httpClient:   httpClient,
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		modelName:    modelName,
		maxTokens:    maxTokens,
		temperature:  cfg.Temperature,
		extraHeaders: cfg.ExtraHeaders,
		providerName: providerName,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// SendStream opens a streaming chat-completions request.
func (c *Client) SendStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		apiReq, err := c.buildRequest(req)
		if err != nil {
			yield(nil, err)
			return
		}

		resp, err := c.post(ctx, "/chat/completions", apiReq)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		c.readStream(resp.Body, yield)
	}
}

// ListModels returns the model IDs the backend advertises.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: model listing failed: %w", c.providerName, err)
	}
	defer resp.Body.Close()

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, &model.ProtocolError{
			Provider: c.providerName,
			Message:  "malformed model listing",
			Err:      err,
		}
	}

	names := make([]string, 0, len(listing.Data))
	for _, m := range listing.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// post sends a JSON request and returns the response, surfacing API error
// bodies as readable errors.
func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		if apiErr := parseAPIError(bodyBytes); apiErr != "" {
			return nil, fmt.Errorf("%s: API error (status %d): %s", c.providerName, resp.StatusCode, apiErr)
		}
		return nil, fmt.Errorf("%s: API error (status %d): %s", c.providerName, resp.StatusCode, string(bodyBytes))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.providerName, err)
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for name, value := range c.extraHeaders {
		req.Header.Set(name, value)
	}
}

var (
	_ model.ChatModel = (*Client)(nil)
	_ model.Lister    = (*Client)(nil)
)

func parseAPIError(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return ""
}
