package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes caps how much of an embedding response is read.
const maxResponseBytes = 64 << 20

// jsonClient posts JSON to one embedding backend.
type jsonClient struct {
	// backend names the service in errors.
	backend string
	// http carries the requests. Deadlines come from the request context.
	http *http.Client
	// header is added to every request (auth).
	header http.Header
}

func newJSONClient(backend string, client *http.Client, header http.Header) *jsonClient {
	if client == nil {
		client = &http.Client{}
	}
	return &jsonClient{backend: backend, http: client, header: header}
}

// post sends in as JSON to url and decodes a 2xx reply into out. Any other
// status becomes a *StatusError carrying the service's message.
func (c *jsonClient) post(ctx context.Context, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s embedder: marshal request: %w", c.backend, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s embedder: create request: %w", c.backend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s embedder: request failed: %w", c.backend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s embedder: read response: %w", c.backend, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(body)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Backend: c.backend, Code: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s embedder: decode response: %w", c.backend, err)
	}
	return nil
}

// errorMessage extracts the message from either error shape the backends
// use: {"error": "text"} (Ollama) or {"error": {"message": "text"}} (OpenAI).
func errorMessage(body []byte) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil || len(env.Error) == 0 {
		return ""
	}
	var text string
	if json.Unmarshal(env.Error, &text) == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(env.Error, &obj) == nil {
		return obj.Message
	}
	return ""
}

// checkCount guards against a reply with a different number of vectors.
func checkCount(backend string, want, got int) error {
	if want != got {
		return fmt.Errorf("%s embedder: expected %d embeddings, got %d", backend, want, got)
	}
	return nil
}
