package embedder

import (
	"context"
	"net/http"
	"strings"
)

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint. No API
// key is involved. Safe for concurrent use.
type OllamaEmbedder struct {
	endpoint string
	model    string
	client   *jsonClient
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// NewOllamaEmbedder constructs an OllamaEmbedder.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		endpoint: strings.TrimRight(cfg.Host, "/") + "/api/embed",
		model:    cfg.Model,
		client:   newJSONClient(BackendOllama, cfg.HTTPClient, nil),
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp ollamaEmbedResponse
	if err := e.client.post(ctx, e.endpoint, ollamaEmbedRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if err := checkCount(BackendOllama, len(texts), len(resp.Embeddings)); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
