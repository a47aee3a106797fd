package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIEmbedder_RequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder(OpenAIConfig{}); err == nil {
		t.Fatal("NewOpenAIEmbedder() without API key should fail")
	}
}

func TestOpenAIEmbedder_Defaults(t *testing.T) {
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder() error = %v", err)
	}
	if e.Model() != "text-embedding-3-small" {
		t.Errorf("Model() = %v", e.Model())
	}
	if e.Dimension() != 1536 {
		t.Errorf("Dimension() = %v", e.Dimension())
	}
}

func TestOpenAIEmbedder_BatchingAndOrder(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if len(req.Input) > 2 {
			t.Errorf("batch size exceeded: %d", len(req.Input))
		}

		// Return embeddings out of order; the index field restores order.
		resp := map[string]any{"data": []map[string]any{}}
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"embedding": []float32{float32(i)},
				"index":     i,
			})
		}
		resp["data"] = data
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e, _ := NewOpenAIEmbedder(OpenAIConfig{
		APIKey:    "sk-test",
		BaseURL:   server.URL,
		BatchSize: 2,
	})

	embeddings, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2 (batch of 2 + batch of 1)", requests)
	}
	if len(embeddings) != 3 {
		t.Fatalf("len(embeddings) = %d, want 3", len(embeddings))
	}
	if embeddings[0][0] != 0 || embeddings[1][0] != 1 {
		t.Errorf("embeddings out of order: %v", embeddings)
	}
}

func TestOllamaEmbedder_Batch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"embeddings":[[0.1,0.2],[0.3,0.4]]}`)
	}))
	defer server.Close()

	e, _ := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL})

	embeddings, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(embeddings) != 2 || embeddings[1][1] != 0.4 {
		t.Errorf("embeddings = %v", embeddings)
	}
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embeddings":[[0.1]]}`)
	}))
	defer server.Close()

	e, _ := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL})

	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("count mismatch should be an error")
	}
}

func TestCohereEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req cohereEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.InputType != "search_document" {
			t.Errorf("input_type = %s", req.InputType)
		}
		fmt.Fprint(w, `{"embeddings":{"float":[[0.5,0.6]]}}`)
	}))
	defer server.Close()

	e, err := NewCohereEmbedder(CohereConfig{APIKey: "co-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewCohereEmbedder() error = %v", err)
	}

	embedding, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(embedding) != 2 || embedding[0] != 0.5 {
		t.Errorf("embedding = %v", embedding)
	}
}
