package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

func pingOK(context.Context) error { return nil }

func pingErr(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func getReady(t *testing.T, s *Server) (int, readyResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: want application/json, got %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeAsker{})
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: want ok, got %q", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantFailed []string
	}{
		{
			name:       "no probes",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all healthy",
			pingers:    []Pinger{Probe("index", pingOK), Probe("qdrant", pingOK)},
			wantStatus: http.StatusOK,
		},
		{
			name:       "qdrant down",
			pingers:    []Pinger{Probe("index", pingOK), Probe("qdrant", pingErr("connection refused"))},
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"qdrant"},
		},
		{
			name:       "everything down",
			pingers:    []Pinger{Probe("index", pingErr("no index")), Probe("qdrant", pingErr("timeout"))},
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"index", "qdrant"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestServer(t, &fakeAsker{})
			s.pingers = tc.pingers

			status, resp := getReady(t, s)
			if status != tc.wantStatus {
				t.Fatalf("status: want %d, got %d", tc.wantStatus, status)
			}
			if resp.Ready != (len(tc.wantFailed) == 0) {
				t.Errorf("ready: got %v with failures %v", resp.Ready, tc.wantFailed)
			}
			if len(resp.Checks) != len(tc.pingers) {
				t.Fatalf("checks: want %d, got %d", len(tc.pingers), len(resp.Checks))
			}

			var failed []string
			for i, c := range resp.Checks {
				if c.Name != tc.pingers[i].Name() {
					t.Errorf("check %d: want %q, got %q", i, tc.pingers[i].Name(), c.Name)
				}
				if c.OK != (c.Error == "") {
					t.Errorf("check %q: ok=%v but error=%q", c.Name, c.OK, c.Error)
				}
				if !c.OK {
					failed = append(failed, c.Name)
				}
			}
			if !slices.Equal(failed, tc.wantFailed) {
				t.Errorf("failed checks: want %v, got %v", tc.wantFailed, failed)
			}
		})
	}
}

func TestHandleReady_ProbesRunConcurrently(t *testing.T) {
	t.Parallel()

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s, _ := newTestServer(t, &fakeAsker{})
	s.pingers = []Pinger{Probe("a", slow), Probe("b", slow), Probe("c", slow)}

	start := time.Now()
	status, _ := getReady(t, s)
	if status != http.StatusOK {
		t.Fatalf("want 200, got %d", status)
	}
	if elapsed := time.Since(start); elapsed > 550*time.Millisecond {
		t.Errorf("probes look sequential: took %s", elapsed)
	}
}

func TestIndexProbe(t *testing.T) {
	t.Parallel()

	var idx rag.Index
	p := IndexProbe(func() rag.Index { return idx })
	if p.Name() != "index" {
		t.Errorf("name: want index, got %q", p.Name())
	}
	if err := p.Ping(context.Background()); !errors.Is(err, rag.ErrIndexNotFound) {
		t.Fatalf("before ingest: want ErrIndexNotFound, got %v", err)
	}

	idx = stubIndex{}
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("after ingest: %v", err)
	}
}

// stubIndex is an empty rag.Index.
type stubIndex struct{}

func (stubIndex) Search(context.Context, string, int) ([]rag.ScoredChunk, error) { return nil, nil }
func (stubIndex) Len() int                                                       { return 0 }
func (stubIndex) Dimension() int                                                 { return 0 }
