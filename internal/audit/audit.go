// Package audit logs one line per docqa command recording which settings it
// ran with. Values are grouped by concern; credentials appear only as "set"
// or "unset".
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// envGroup is a named set of env vars logged together.
type envGroup struct {
	name string
	keys []string
}

// groups is the audited environment, in log order.
var groups = []envGroup{
	{"pipeline", []string{
		"DOCQA_DOCUMENTS", "INDEX_BACKEND", "DOCQA_INDEX_DIR",
		"CHUNK_SIZE", "CHUNK_OVERLAP", "RETRIEVAL_TOP_K",
		"SYNTH_STRATEGY", "SYNTH_TIMEOUT", "CONTEXT_MAX_TOKENS",
	}},
	{"model", []string{
		"MODEL_PROVIDER",
		"OLLAMA_HOST", "OLLAMA_MODEL",
		"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
		"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
		"GOOGLE_API_KEY", "GEMINI_MODEL",
		"ARK_API_KEY", "ARK_MODEL",
	}},
	{"embedding", []string{"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY"}},
	{"qdrant", []string{"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION", "QDRANT_API_KEY"}},
	{"runtime", []string{
		"DOCQA_HISTORY_DB", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
		"LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
	}},
}

// secretSuffixes mark env vars whose values are never logged.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_TOKEN", "_PASSWORD"}

// LogCommandStart logs that command is starting with the config file at
// configPath ("" when none was found) and the audited environment.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", displayPath(configPath)),
	}
	for _, g := range groups {
		vals := make([]any, 0, len(g.keys))
		for _, key := range g.keys {
			vals = append(vals, slog.String(key, SanitiseKey(key, os.Getenv(key))))
		}
		attrs = append(attrs, slog.Group(g.name, vals...))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns the loggable form of an env var: "unset" when empty,
// "set" for credentials, and the value itself otherwise.
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case isSecret(key):
		return "set"
	default:
		return value
	}
}

func isSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// displayPath shortens the home directory to "~"; "" becomes "none".
func displayPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + strings.TrimPrefix(p, home)
	}
	return p
}
