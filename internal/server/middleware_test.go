package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/docqa-go/internal/logging"
)

func TestRequestLogger_RequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		wantEcho bool
	}{
		{name: "generated", incoming: "", wantEcho: false},
		{name: "propagated", incoming: "trace-123", wantEcho: true},
		{name: "too long", incoming: strings.Repeat("x", maxRequestIDLen+1), wantEcho: false},
		{name: "control characters", incoming: "abc\ninjected=1", wantEcho: false},
		{name: "spaces", incoming: "two words", wantEcho: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			base := slog.New(slog.NewJSONHandler(&buf, nil))

			var ctxLogged bool
			h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxLogged = logging.FromContext(r.Context()) != slog.Default()
				w.WriteHeader(http.StatusTeapot)
				_, _ = w.Write([]byte("short and stout"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tc.incoming != "" {
				req.Header.Set(requestIDHeader, tc.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if tc.wantEcho && got != tc.incoming {
				t.Errorf("want echoed id %q, got %q", tc.incoming, got)
			}
			if !tc.wantEcho && len(got) != 36 {
				t.Errorf("want generated UUID, got %q", got)
			}
			if !ctxLogged {
				t.Error("handler context carries no request logger")
			}

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("decode log line: %v", err)
			}
			if entry["request_id"] != got {
				t.Errorf("log request_id %v, header %q", entry["request_id"], got)
			}
			if entry["status"] != float64(http.StatusTeapot) {
				t.Errorf("log status %v", entry["status"])
			}
			if entry["bytes"] != float64(len("short and stout")) {
				t.Errorf("log bytes %v", entry["bytes"])
			}
			if entry["level"] != "INFO" {
				t.Errorf("log level %v", entry["level"])
			}
		})
	}
}

func TestRequestLogger_ServerErrorLogsWarn(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := requestLogger(slog.New(slog.NewJSONHandler(&buf, nil)), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/ask", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "WARN" {
		t.Errorf("want WARN, got %v", entry["level"])
	}
}
