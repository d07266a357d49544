package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIEmbedder_Embed(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPath string
	var gotBody openaiEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		// Out of order on purpose.
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0,1],"index":1},{"embedding":[1,0],"index":0}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small", Dimensions: 2})
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/embeddings" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Dimensions != 2 || gotBody.Model != "text-embedding-3-small" {
		t.Errorf("request body = %+v", gotBody)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("embeddings not placed by index: %v", vecs)
	}
}

func TestOpenAIEmbedder_Azure(t *testing.T) {
	t.Parallel()

	var gotKey, gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		gotURL = r.URL.RequestURI()
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL: srv.URL + "/openai", APIKey: "azkey", Model: "embed-deploy",
		Azure: true, APIVersion: "2025-04-01-preview",
	})
	if _, err := e.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotKey != "azkey" {
		t.Errorf("api-key = %q", gotKey)
	}
	if want := "/openai/deployments/embed-deploy/embeddings?api-version=2025-04-01-preview"; gotURL != want {
		t.Errorf("url = %q, want %q", gotURL, want)
	}
}

func TestOpenAIEmbedder_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`, wantStatus: 401},
		{name: "rate limited non-json", status: http.StatusTooManyRequests, body: `slow down`, wantStatus: 429},
		{name: "count mismatch", status: http.StatusOK, body: `{"data":[]}`},
		{name: "index out of range", status: http.StatusOK, body: `{"data":[{"embedding":[1],"index":5}]}`},
		{name: "malformed json", status: http.StatusOK, body: `{"data":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
			_, err := e.Embed(context.Background(), []string{"x"})
			if err == nil {
				t.Fatal("expected error")
			}
			var se *StatusError
			if tc.wantStatus == 0 {
				if errors.As(err, &se) {
					t.Errorf("unexpected status error: %v", err)
				}
				return
			}
			if !errors.As(err, &se) || se.Code != tc.wantStatus {
				t.Fatalf("want StatusError %d, got %v", tc.wantStatus, err)
			}
		})
	}
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model \"missing\" not found"}`))
			return
		}
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.5, 0.5})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Errorf("want 3 vectors, got %d", len(vecs))
	}

	missing := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "missing"})
	_, err = missing.Embed(context.Background(), []string{"a"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound || se.Retryable() {
		t.Fatalf("want non-retryable 404 StatusError, got %v", err)
	}
}
