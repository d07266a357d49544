package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
)

// Defaults applied by ConfigFromEnv.
const (
	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 4096
)

var (
	// ErrUnknownBackend is returned for a MODEL_PROVIDER with no backend.
	ErrUnknownBackend = errors.New("provider: unknown backend")
	// ErrMissingSetting is wrapped once per required setting left empty.
	ErrMissingSetting = errors.New("provider: missing setting")
)

// setting is one required value and the env var that supplies it.
type setting struct {
	env string
	get func(*Config) string
}

// backendSpec is how one backend is checked, named and built.
type backendSpec struct {
	required []setting
	model    func(*Config) string
	build    func(context.Context, *Config) (model.BaseChatModel, error)
}

var backends = map[Backend]backendSpec{
	BackendGemini: {
		required: []setting{
			{"GOOGLE_API_KEY", func(c *Config) string { return c.Gemini.APIKey }},
			{"GEMINI_MODEL", func(c *Config) string { return c.Gemini.Model }},
		},
		model: func(c *Config) string { return c.Gemini.Model },
		build: newGemini,
	},
	BackendOpenAI: {
		required: []setting{
			{"OPENAI_API_KEY", func(c *Config) string { return c.OpenAI.APIKey }},
			{"OPENAI_MODEL", func(c *Config) string { return c.OpenAI.Model }},
		},
		model: func(c *Config) string { return c.OpenAI.Model },
		build: newOpenAI,
	},
	BackendAzure: {
		required: []setting{
			{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.AzureOpenAI.APIKey }},
			{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.AzureOpenAI.Endpoint }},
			{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.AzureOpenAI.Deployment }},
		},
		model: func(c *Config) string { return c.AzureOpenAI.Deployment },
		build: newAzure,
	},
	BackendOllama: {
		required: []setting{
			{"OLLAMA_MODEL", func(c *Config) string { return c.Ollama.Model }},
		},
		model: func(c *Config) string { return c.Ollama.Model },
		build: newOllama,
	},
	BackendArk: {
		required: []setting{
			{"ARK_API_KEY", func(c *Config) string { return c.Ark.APIKey }},
			{"ARK_MODEL", func(c *Config) string { return c.Ark.Model }},
		},
		model: func(c *Config) string { return c.Ark.Model },
		build: newArk,
	},
}

// Backends lists the supported backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for b := range backends {
		names = append(names, string(b))
	}
	slices.Sort(names)
	return names
}

// ConfigFromEnv reads provider configuration from the environment.
// MODEL_PROVIDER selects the backend; each backend reads its own native
// credential variables.
//
//	MODEL_PROVIDER = gemini | openai | azure | ollama | ark (default: gemini)
//
//	Gemini:  GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-2.0-flash)
//	OpenAI:  OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini), OPENAI_BASE_URL
//	Azure:   AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	         AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Ollama:  OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	Ark:     ARK_API_KEY, ARK_MODEL, ARK_BASE_URL
//
//	Shared:  MODEL_MAX_TOKENS (default: 4096), MODEL_TEMPERATURE (default: 0.3)
func ConfigFromEnv() *Config {
	return &Config{
		Backend: Backend(strings.ToLower(getEnvOrDefault("MODEL_PROVIDER", string(BackendGemini)))),
		Gemini: ProviderGemini{
			APIKey: os.Getenv("GOOGLE_API_KEY"),
			Model:  getEnvOrDefault("GEMINI_MODEL", DefaultGeminiModel),
		},
		OpenAI: ProviderOpenAI{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Ollama: ProviderOllama{
			Host:  getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
			Model: getEnvOrDefault("OLLAMA_MODEL", "llama3"),
		},
		Ark: ProviderArk{
			APIKey:  os.Getenv("ARK_API_KEY"),
			BaseURL: os.Getenv("ARK_BASE_URL"),
			Model:   os.Getenv("ARK_MODEL"),
		},
		Tuning: SharedTuning{
			MaxTokens:   envNumber("MODEL_MAX_TOKENS", DefaultMaxTokens, strconv.Atoi),
			Temperature: envNumber("MODEL_TEMPERATURE", float32(DefaultTemperature), parseFloat32),
		},
	}
}

// Validate reports every empty required setting of the selected backend,
// each naming its env var, plus out-of-range tuning values.
func (c *Config) Validate() error {
	be, ok := backends[c.Backend]
	if !ok {
		return fmt.Errorf("%w %q: valid values are %s", ErrUnknownBackend, c.Backend, strings.Join(Backends(), ", "))
	}

	var errs []error
	for _, s := range be.required {
		if s.get(c) == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required for the %s backend", ErrMissingSetting, s.env, c.Backend))
		}
	}
	if c.Tuning.Temperature < 0 || c.Tuning.Temperature > 2 {
		errs = append(errs, fmt.Errorf("provider: MODEL_TEMPERATURE must be within [0, 2], got %v", c.Tuning.Temperature))
	}
	if c.Tuning.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("provider: MODEL_MAX_TOKENS must not be negative, got %d", c.Tuning.MaxTokens))
	}
	return errors.Join(errs...)
}

// New validates cfg and builds the chat model of its backend, so a bad
// config fails at startup rather than on the first question.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := backends[cfg.Backend].build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("provider: build %s chat model: %w", cfg.Backend, err)
	}
	return m, nil
}

// ModelName returns the model or deployment the config selects, for logs.
func (c *Config) ModelName() string {
	if be, ok := backends[c.Backend]; ok {
		return be.model(c)
	}
	return ""
}

// isAzureReasoningModel reports whether an Azure deployment is an o-series
// or codex reasoning model. Those reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envNumber parses key with parse, returning fallback when the variable is
// unset or malformed.
func envNumber[T int | float32](key string, fallback T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := parse(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat32(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err //nolint:wrapcheck // strconv error is descriptive
}
