package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/pipeline"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds one POST /api/ask request end to end (default: 2m).
	AskTimeout time.Duration
	// MaxBodyBytes caps the request body of POST /api/ask (default: 64 KiB).
	MaxBodyBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on
	// POST /api/ask (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// MetricsRegistry receives the server collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// asker answers one question. *pipeline.Engine satisfies it; tests inject a
// fake.
type asker interface {
	Ask(ctx context.Context, q pipeline.Query) (*pipeline.Answer, error)
}

// Server exposes the query flow over a JSON API.
type Server struct {
	// asker runs the query flow.
	asker asker
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// History carries earlier turns of a chat. Accepted, not used.
	History []pipeline.Turn `json:"history,omitempty"`
	// SessionID keys the transcript. The server assigns one when empty.
	SessionID string `json:"session_id,omitempty"`
}

// sourceJSON is one retrieved chunk in an askResponse.
type sourceJSON struct {
	pipeline.Source
	// Label is the human-readable "file p.N" form.
	Label string `json:"label"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Answer is the synthesised answer, the fallback, or the prompt message.
	Answer string `json:"answer"`
	// Sources lists the retrieved chunks in rank order.
	Sources []sourceJSON `json:"sources"`
	// Prompted is true when the question was empty.
	Prompted bool `json:"prompted"`
	// SessionID echoes or assigns the session key.
	SessionID string `json:"session_id"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	// Error is a short, client-safe description.
	Error string `json:"error"`
	// Detail carries the underlying error text.
	Detail string `json:"detail,omitempty"`
}
