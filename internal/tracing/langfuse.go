// Package tracing wires Langfuse into the eino callback system so every chat
// model call made while answering a question is traced.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

const defaultHost = "http://localhost:3000"

// Setup registers a global Langfuse callback handler if LANGFUSE_PUBLIC_KEY
// and LANGFUSE_SECRET_KEY are set. The returned flush function must be
// called before process exit so pending traces are sent; it is a no-op when
// tracing is disabled.
func Setup(log *slog.Logger) (flush func()) {
	handler, flusher, ok := newHandler()
	if !ok {
		log.Debug("tracing: langfuse disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	log.Info("tracing: langfuse enabled", slog.String("host", hostFromEnv()))
	return flusher
}

// newHandler builds the Langfuse handler from the environment.
func newHandler() (callbacks.Handler, func(), bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      hostFromEnv(),
		PublicKey: publicKey,
		SecretKey: secretKey,
	})
	return handler, flusher, true
}

func hostFromEnv() string {
	if h := os.Getenv("LANGFUSE_HOST"); h != "" {
		return h
	}
	return defaultHost
}
