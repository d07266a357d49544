// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. Gemini is reached through the
// google.golang.org/genai SDK; OpenAI, Azure OpenAI and Ollama through their
// JSON HTTP APIs; the hashing embedder runs offline. Resilient wraps any of
// them with batching, timeouts and retries.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// OpenAIEmbedder calls the OpenAI embeddings API, or the Azure OpenAI
// deployment-scoped variant. Safe for concurrent use.
type OpenAIEmbedder struct {
	endpoint   string
	model      string
	dimensions int
	client     *jsonClient
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is sent as a Bearer token, or as the api-key header for Azure.
	APIKey string
	// Model is the embedding model, or the deployment name for Azure.
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure selects deployment URLs and api-key auth.
	Azure bool
	// APIVersion is the Azure api-version query parameter.
	APIVersion string
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	header := http.Header{}
	endpoint := base + "/embeddings"
	backend := BackendOpenAI
	if cfg.Azure {
		backend = BackendAzure
		header.Set("api-key", cfg.APIKey)
		endpoint = base + "/deployments/" + url.PathEscape(cfg.Model) +
			"/embeddings?api-version=" + url.QueryEscape(cfg.APIVersion)
	} else {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &OpenAIEmbedder{
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     newJSONClient(backend, cfg.HTTPClient, header),
	}
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order. The API may reply out
// of order; vectors are placed by their index field.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openaiEmbedResponse
	req := openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}
	if err := e.client.post(ctx, e.endpoint, req, &resp); err != nil {
		return nil, err
	}
	if err := checkCount(e.client.backend, len(texts), len(resp.Data)); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%s embedder: index %d out of range [0, %d)", e.client.backend, d.Index, len(texts))
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("%s embedder: missing embedding for input %d", e.client.backend, i)
		}
	}
	return out, nil
}
