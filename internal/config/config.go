// Package config loads docqa configuration. Precedence, lowest first:
// built-in defaults, YAML file, .env file, process environment. Both files
// are applied as environment variables and never overwrite a variable that
// is already set, so each package keeps resolving its own settings from the
// environment.
//
// The YAML file is the first of:
//
//	--config <path>          (must exist)
//	$DOCQA_CONFIG
//	~/.docqa/config.yaml
//	./docqa.yaml
//
// With none of them present docqa runs from the environment alone.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML file. Every leaf field names the environment
// variable it feeds in its env tag.
type Config struct {
	// Documents lists the files ingested when no paths are given.
	Documents []string `yaml:"documents" env:"DOCQA_DOCUMENTS"`

	Index struct {
		// Backend is sqlite or qdrant.
		Backend string `yaml:"backend" env:"INDEX_BACKEND"`
		// Dir holds index.db for the sqlite backend.
		Dir string `yaml:"dir" env:"DOCQA_INDEX_DIR"`
	} `yaml:"index"`

	// Chunking sizes are in characters.
	Chunking struct {
		Size    int `yaml:"size" env:"CHUNK_SIZE"`
		Overlap int `yaml:"overlap" env:"CHUNK_OVERLAP"`
	} `yaml:"chunking"`

	Retrieval struct {
		TopK int `yaml:"top_k" env:"RETRIEVAL_TOP_K"`
	} `yaml:"retrieval"`

	Synthesis struct {
		// Strategy is stuff or map_reduce.
		Strategy string `yaml:"strategy" env:"SYNTH_STRATEGY"`
		// Timeout is a Go duration such as "60s".
		Timeout          string `yaml:"timeout" env:"SYNTH_TIMEOUT"`
		MaxContextTokens int    `yaml:"max_context_tokens" env:"CONTEXT_MAX_TOKENS"`
	} `yaml:"synthesis"`

	Model ModelConfig `yaml:"model"`

	Embedding struct {
		// Provider is gemini, openai, azure, ollama or hashing. Empty
		// follows the chat model provider.
		Provider   string `yaml:"provider" env:"EMBEDDING_PROVIDER"`
		Model      string `yaml:"model" env:"EMBEDDING_MODEL"`
		Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS"`
		APIKey     string `yaml:"api_key" env:"EMBEDDING_API_KEY"`
		Endpoint   string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT"`
		Timeout    string `yaml:"timeout" env:"EMBEDDING_TIMEOUT"`
		MaxRetries int    `yaml:"max_retries" env:"EMBEDDING_MAX_RETRIES"`
		BatchSize  int    `yaml:"batch_size" env:"EMBEDDING_BATCH_SIZE"`
	} `yaml:"embedding"`

	Qdrant struct {
		Host       string `yaml:"host" env:"QDRANT_HOST"`
		Port       int    `yaml:"port" env:"QDRANT_PORT"`
		Collection string `yaml:"collection" env:"QDRANT_COLLECTION"`
		APIKey     string `yaml:"api_key" env:"QDRANT_API_KEY"`
		TLS        bool   `yaml:"tls" env:"QDRANT_TLS"`
	} `yaml:"qdrant"`

	Server struct {
		Host string `yaml:"host" env:"DOCQA_HOST"`
		Port int    `yaml:"port" env:"DOCQA_PORT"`
		// RateLimit is asks per second per client.
		RateLimit float64 `yaml:"rate_limit" env:"DOCQA_RATE_LIMIT"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
		// File receives chat session logs.
		File string `yaml:"file" env:"LOG_FILE"`
	} `yaml:"logging"`

	History struct {
		// DBPath is the transcript database; "disabled" turns transcripts off.
		DBPath string `yaml:"db_path" env:"DOCQA_HISTORY_DB"`
	} `yaml:"history"`

	Tracing struct {
		PublicKey string `yaml:"public_key" env:"LANGFUSE_PUBLIC_KEY"`
		SecretKey string `yaml:"secret_key" env:"LANGFUSE_SECRET_KEY"`
		Host      string `yaml:"host" env:"LANGFUSE_HOST"`
	} `yaml:"tracing"`
}

// ModelConfig selects the chat model. Only the section matching Provider
// is used. Credentials are better kept in the environment than in the file.
type ModelConfig struct {
	Provider    string  `yaml:"provider" env:"MODEL_PROVIDER"`
	MaxTokens   int     `yaml:"max_tokens" env:"MODEL_MAX_TOKENS"`
	Temperature float32 `yaml:"temperature" env:"MODEL_TEMPERATURE"`

	Gemini struct {
		APIKey string `yaml:"api_key" env:"GOOGLE_API_KEY"`
		Model  string `yaml:"model" env:"GEMINI_MODEL"`
	} `yaml:"gemini"`

	OpenAI struct {
		APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"`
		Model   string `yaml:"model" env:"OPENAI_MODEL"`
		BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
	} `yaml:"openai"`

	Azure struct {
		APIKey     string `yaml:"api_key" env:"AZURE_OPENAI_API_KEY"`
		Endpoint   string `yaml:"endpoint" env:"AZURE_OPENAI_ENDPOINT"`
		Deployment string `yaml:"deployment" env:"AZURE_OPENAI_DEPLOYMENT"`
		APIVersion string `yaml:"api_version" env:"AZURE_OPENAI_API_VERSION"`
	} `yaml:"azure"`

	Ollama struct {
		Host  string `yaml:"host" env:"OLLAMA_HOST"`
		Model string `yaml:"model" env:"OLLAMA_MODEL"`
	} `yaml:"ollama"`

	Ark struct {
		APIKey  string `yaml:"api_key" env:"ARK_API_KEY"`
		BaseURL string `yaml:"base_url" env:"ARK_BASE_URL"`
		// Model is an Ark endpoint or model ID.
		Model string `yaml:"model" env:"ARK_MODEL"`
	} `yaml:"ark"`
}

// LoadDotEnv applies the variables of each existing .env file in paths.
// Variables already present in the environment are kept. Missing files are
// skipped; a malformed file is an error. With no paths, ./.env is tried.
func LoadDotEnv(log *slog.Logger, paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
		log.Debug("config: applied .env file", slog.String("path", p))
	}
	return nil
}

// Load finds the YAML file, applies its non-zero values to unset env vars
// and returns the file's path. It returns "" when no file was found. An
// explicit path that does not exist is an error.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path, err := findConfigFile(explicitPath)
	if err != nil {
		return "", err
	}
	if path == "" {
		log.Debug("config: no YAML file, using environment only")
		return "", nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return "", fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: parse %s: %w", path, err)
	}

	applied := 0
	for key, val := range envValues(&cfg) {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return "", fmt.Errorf("config: set %s: %w", key, err)
		}
		applied++
	}

	log.Info("config: applied YAML file",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)
	return path, nil
}

// envValues flattens cfg into env var assignments, skipping zero values.
func envValues(cfg *Config) map[string]string {
	out := make(map[string]string)
	var walk func(v reflect.Value)
	walk = func(v reflect.Value) {
		t := v.Type()
		for i := range t.NumField() {
			f, fv := t.Field(i), v.Field(i)
			if f.Type.Kind() == reflect.Struct {
				walk(fv)
				continue
			}
			key := f.Tag.Get("env")
			if key == "" || fv.IsZero() {
				continue
			}
			if s := formatEnv(fv); s != "" {
				out[key] = s
			}
		}
	}
	walk(reflect.ValueOf(cfg).Elem())
	return out
}

// formatEnv renders a leaf config value the way the env parsers read it.
func formatEnv(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Slice:
		if items, ok := v.Interface().([]string); ok {
			return strings.Join(items, ",")
		}
	}
	return ""
}

// findConfigFile returns the first config file that exists.
func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: --config %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := []string{os.Getenv("DOCQA_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".docqa", "config.yaml"))
	}
	candidates = append(candidates, "docqa.yaml")

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}
