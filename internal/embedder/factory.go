package embedder

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// Supported embedding backends.
const (
	BackendGemini  = "gemini"
	BackendOpenAI  = "openai"
	BackendAzure   = "azure"
	BackendOllama  = "ollama"
	BackendHashing = "hashing"
)

// Default embedding models per backend.
const (
	defaultGeminiModel  = "text-embedding-004"
	defaultOpenAIModel  = "text-embedding-3-small"
	defaultOllamaModel  = "nomic-embed-text"
	defaultHashingModel = "fnv"

	// defaultHashingDimensions is the bucket count of the offline embedder.
	defaultHashingDimensions = 512

	defaultBatchSize  = 100
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
)

// Config is the resolved embedding configuration.
type Config struct {
	// Backend selects the implementation: gemini, openai, azure, ollama, hashing.
	Backend string
	// Model is the embedding model name for the backend.
	Model string
	// APIKey authenticates against hosted backends.
	APIKey string
	// Endpoint is the API base URL (OpenAI base, Azure resource endpoint, or Ollama host).
	Endpoint string
	// APIVersion is the Azure OpenAI API version. Ignored elsewhere.
	APIVersion string
	// Dimensions requests a specific vector length (0 = model default).
	Dimensions int
	// BatchSize caps the number of texts sent per request.
	BatchSize int
	// Timeout bounds each embedding request.
	Timeout time.Duration
	// MaxRetries is the number of retries after a failed request.
	MaxRetries int
	// inherited records that Backend came from MODEL_PROVIDER.
	inherited bool
}

// ConfigFromEnv resolves embedding settings with cascading defaults that
// inherit from the chat provider configuration when embedding-specific
// overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER, else gemini
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the backend's default model
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS, EMBEDDING_BATCH_SIZE, EMBEDDING_TIMEOUT and
//     EMBEDDING_MAX_RETRIES tune every backend
func ConfigFromEnv() *Config {
	cfg := &Config{
		Backend:    os.Getenv("EMBEDDING_PROVIDER"),
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Endpoint:   os.Getenv("EMBEDDING_ENDPOINT"),
		Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		BatchSize:  getEnvInt("EMBEDDING_BATCH_SIZE", defaultBatchSize),
		Timeout:    getEnvDuration("EMBEDDING_TIMEOUT", defaultTimeout),
		MaxRetries: getEnvInt("EMBEDDING_MAX_RETRIES", defaultMaxRetries),
	}
	if cfg.Backend == "" {
		cfg.Backend = getEnvOrDefault("MODEL_PROVIDER", BackendGemini)
		cfg.inherited = true
	}

	switch cfg.Backend {
	case BackendGemini:
		cfg.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel)
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	case BackendOpenAI:
		cfg.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
		}
	case BackendAzure:
		cfg.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
		}
		cfg.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview")
	case BackendOllama:
		cfg.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
		if cfg.Endpoint == "" {
			cfg.Endpoint = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
	case BackendHashing:
		cfg.Model = defaultHashingModel
		if cfg.Dimensions == 0 {
			cfg.Dimensions = defaultHashingDimensions
		}
	default:
		cfg.Model = os.Getenv("EMBEDDING_MODEL")
	}
	return cfg
}

// Name identifies the backend, model and requested dimension. Persisted
// indexes record it so vectors from different models are never mixed.
func (c *Config) Name() string {
	name := c.Backend + "/" + c.Model
	if c.Dimensions > 0 {
		name += "@" + strconv.Itoa(c.Dimensions)
	}
	return name
}

// New validates cfg and constructs the backend embedder wrapped with
// batching, per-request timeouts and bounded retries.
func New(ctx context.Context, cfg *Config, log *slog.Logger) (rag.Embedder, error) {
	if err := cfg.Validate(log); err != nil {
		return nil, err
	}

	var inner rag.Embedder
	switch cfg.Backend {
	case BackendGemini:
		g, err := NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		inner = g
	case BackendOpenAI:
		inner = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case BackendAzure:
		inner = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai",
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: cfg.APIVersion,
		})
	case BackendOllama:
		inner = NewOllamaEmbedder(&OllamaConfig{
			Host:  cfg.Endpoint,
			Model: cfg.Model,
		})
	case BackendHashing:
		// Local and deterministic; no retries or timeouts needed.
		return NewHashingEmbedder(cfg.Dimensions), nil
	}

	log.Info("embedder: configured",
		slog.String("backend", cfg.Backend),
		slog.String("model", cfg.Model),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Duration("timeout", cfg.Timeout),
		slog.Int("max_retries", cfg.MaxRetries),
	)
	return NewResilient(inner, &ResilientConfig{
		BatchSize:  cfg.BatchSize,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}, log), nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration parses the named variable with time.ParseDuration, falling
// back when it is unset or invalid.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
