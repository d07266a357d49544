package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Index backends accepted by INDEX_BACKEND.
const (
	IndexBackendSQLite = "sqlite"
	IndexBackendQdrant = "qdrant"
)

// Defaults of the pipeline settings.
const (
	DefaultDocument         = "BDO-Malaysia-Budget-2025-Highlights.pdf"
	DefaultIndexDir         = "docqa_index"
	DefaultQdrantCollection = "docqa"
	DefaultChunkSize        = 10000
	DefaultChunkOverlap     = 1000
	DefaultTopK             = 4
	DefaultSynthStrategy    = "stuff"
	DefaultSynthTimeout     = 60 * time.Second
)

// ErrInvalidSettings is wrapped by every Settings validation failure.
var ErrInvalidSettings = errors.New("config: invalid settings")

// Settings is the typed view of the pipeline environment variables.
// Provider and embedding settings are resolved by their own packages.
type Settings struct {
	// Documents are the files ingested by default (DOCQA_DOCUMENTS).
	Documents []string

	// IndexBackend is sqlite or qdrant (INDEX_BACKEND).
	IndexBackend string

	// IndexDir is the sqlite index directory (DOCQA_INDEX_DIR).
	IndexDir string

	// ChunkSize and ChunkOverlap configure the splitter (CHUNK_SIZE, CHUNK_OVERLAP).
	ChunkSize    int
	ChunkOverlap int

	// TopK is the number of chunks retrieved per question (RETRIEVAL_TOP_K).
	TopK int

	// SynthStrategy is stuff or map_reduce (SYNTH_STRATEGY).
	SynthStrategy string

	// SynthTimeout bounds one answer (SYNTH_TIMEOUT).
	SynthTimeout time.Duration

	// ContextMaxTokens bounds the stuffed context; 0 selects the synth
	// default (CONTEXT_MAX_TOKENS).
	ContextMaxTokens int

	// Qdrant connection, used when IndexBackend is qdrant.
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTLS        bool

	// HistoryDB is the transcript database path; "disabled" turns
	// transcripts off, empty selects ~/.docqa/history.db (DOCQA_HISTORY_DB).
	HistoryDB string
}

// IndexLocation returns the Store location for the configured backend.
func (s *Settings) IndexLocation() string {
	if s.IndexBackend == IndexBackendQdrant {
		return s.QdrantCollection
	}
	return s.IndexDir
}

// HistoryDisabled reports whether transcripts are turned off.
func (s *Settings) HistoryDisabled() bool {
	return strings.EqualFold(s.HistoryDB, "disabled")
}

// SettingsFromEnv reads and validates the pipeline settings. Malformed
// numbers and durations are errors rather than silently replaced by
// defaults.
func SettingsFromEnv() (*Settings, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	s := &Settings{
		Documents:        splitList(getEnvOrDefault("DOCQA_DOCUMENTS", DefaultDocument)),
		IndexBackend:     strings.ToLower(getEnvOrDefault("INDEX_BACKEND", IndexBackendSQLite)),
		IndexDir:         getEnvOrDefault("DOCQA_INDEX_DIR", DefaultIndexDir),
		ChunkSize:        intVar("CHUNK_SIZE", DefaultChunkSize),
		ChunkOverlap:     intVar("CHUNK_OVERLAP", DefaultChunkOverlap),
		TopK:             intVar("RETRIEVAL_TOP_K", DefaultTopK),
		SynthStrategy:    strings.ToLower(getEnvOrDefault("SYNTH_STRATEGY", DefaultSynthStrategy)),
		ContextMaxTokens: intVar("CONTEXT_MAX_TOKENS", 0),
		QdrantHost:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		QdrantPort:       intVar("QDRANT_PORT", 6334),
		QdrantCollection: getEnvOrDefault("QDRANT_COLLECTION", DefaultQdrantCollection),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:        strings.EqualFold(os.Getenv("QDRANT_TLS"), "true"),
		HistoryDB:        os.Getenv("DOCQA_HISTORY_DB"),
	}

	timeout := DefaultSynthTimeout
	if v := os.Getenv("SYNTH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SYNTH_TIMEOUT=%q: %w", v, err))
		}
		timeout = d
	}
	s.SynthTimeout = timeout

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	var errs []error
	switch s.IndexBackend {
	case IndexBackendSQLite, IndexBackendQdrant:
	default:
		errs = append(errs, fmt.Errorf("INDEX_BACKEND=%q: valid values are %s, %s", s.IndexBackend, IndexBackendSQLite, IndexBackendQdrant))
	}
	if s.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", s.ChunkSize))
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", s.ChunkOverlap))
	}
	if s.TopK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", s.TopK))
	}
	if s.SynthTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SYNTH_TIMEOUT must be positive, got %s", s.SynthTimeout))
	}
	if s.ContextMaxTokens < 0 {
		errs = append(errs, fmt.Errorf("CONTEXT_MAX_TOKENS must not be negative, got %d", s.ContextMaxTokens))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s=%q is not an integer", key, v)
	}
	return n, nil
}
