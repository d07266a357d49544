package embedder

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
)

// ErrInvalidConfig wraps every problem Validate finds.
var ErrInvalidConfig = errors.New("embedder: invalid config")

// chatModelName matches names of chat and completion model families. Those
// produce poor or no embeddings, so a match only earns a warning.
var chatModelName = regexp.MustCompile(`(?i)(gpt-?[345]|^o[134]\b|gemini-[12]|llama-?[23]|mi[sx]tral|gemma|phi-?3|claude|command-r|deepseek|qwen|doubao)`)

// looksLikeChatModel reports whether model names a chat model rather than a
// dedicated embedding model.
func looksLikeChatModel(model string) bool {
	return !embedName.MatchString(model) && chatModelName.MatchString(model)
}

var embedName = regexp.MustCompile(`(?i)embed`)

// credentials lists, per hosted backend, the settings it cannot run
// without and where each may come from.
var credentials = map[string][]struct {
	get  func(*Config) string
	from string
}{
	BackendGemini: {{func(c *Config) string { return c.APIKey }, "GOOGLE_API_KEY or EMBEDDING_API_KEY"}},
	BackendOpenAI: {{func(c *Config) string { return c.APIKey }, "OPENAI_API_KEY or EMBEDDING_API_KEY"}},
	BackendAzure: {
		{func(c *Config) string { return c.APIKey }, "AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY"},
		{func(c *Config) string { return c.Endpoint }, "AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT"},
	},
	BackendOllama:  nil,
	BackendHashing: nil,
}

// Validate reports every problem that would stop the embedder from working
// before any document is read. Suspicious but workable settings, such as a
// chat model name or an inherited backend, are logged as warnings.
func (c *Config) Validate(log *slog.Logger) error {
	required, known := credentials[c.Backend]
	if !known {
		hint := ""
		if c.inherited {
			hint = " (inherited from MODEL_PROVIDER; set EMBEDDING_PROVIDER)"
		}
		return fmt.Errorf("%w: unknown backend %q%s: valid values are gemini, openai, azure, ollama, hashing",
			ErrInvalidConfig, c.Backend, hint)
	}

	var errs []error
	for _, r := range required {
		if r.get(c) == "" {
			errs = append(errs, fmt.Errorf("%w: %s requires %s", ErrInvalidConfig, c.Backend, r.from))
		}
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: EMBEDDING_BATCH_SIZE must be positive, got %d", ErrInvalidConfig, c.BatchSize))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: EMBEDDING_MAX_RETRIES must not be negative, got %d", ErrInvalidConfig, c.MaxRetries))
	}
	if c.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("%w: EMBEDDING_DIMENSIONS must not be negative, got %d", ErrInvalidConfig, c.Dimensions))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if c.inherited && c.Backend != BackendGemini {
		log.Warn("embedder: backend inherited from MODEL_PROVIDER",
			slog.String("backend", c.Backend),
			slog.String("hint", "set EMBEDDING_PROVIDER"),
		)
	}
	if looksLikeChatModel(c.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model",
			slog.String("model", c.Model),
			slog.String("hint", "use an embedding model such as text-embedding-004 or nomic-embed-text"),
		)
	}
	return nil
}
