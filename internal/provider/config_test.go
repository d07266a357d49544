package provider

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tuning := SharedTuning{MaxTokens: 1024, Temperature: 0.3}
	azure := ProviderAzureOpenAI{APIKey: "key", Endpoint: "https://my.openai.azure.com", Deployment: "gpt-4o"}
	tests := []struct {
		name        string
		cfg         Config
		wantMissing []string
		wantErr     error
		wantText    string
	}{
		{name: "gemini ok", cfg: Config{Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "AIza", Model: "gemini-2.0-flash"}, Tuning: tuning}},
		{name: "gemini no key", cfg: Config{Backend: BackendGemini, Gemini: ProviderGemini{Model: "gemini-2.0-flash"}}, wantMissing: []string{"GOOGLE_API_KEY"}},
		{name: "gemini empty", cfg: Config{Backend: BackendGemini}, wantMissing: []string{"GOOGLE_API_KEY", "GEMINI_MODEL"}},
		{name: "openai ok", cfg: Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk", Model: "gpt-4o"}, Tuning: tuning}},
		{name: "openai no model", cfg: Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk"}}, wantMissing: []string{"OPENAI_MODEL"}},
		{name: "azure ok", cfg: Config{Backend: BackendAzure, AzureOpenAI: azure}},
		{name: "azure only key", cfg: Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{APIKey: "key"}}, wantMissing: []string{"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT"}},
		{name: "ollama ok", cfg: Config{Backend: BackendOllama, Ollama: ProviderOllama{Model: "llama3"}}},
		{name: "ollama no model", cfg: Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: "http://localhost:11434"}}, wantMissing: []string{"OLLAMA_MODEL"}},
		{name: "ark ok", cfg: Config{Backend: BackendArk, Ark: ProviderArk{APIKey: "ak", Model: "doubao-pro"}}},
		{name: "ark no model", cfg: Config{Backend: BackendArk, Ark: ProviderArk{APIKey: "ak"}}, wantMissing: []string{"ARK_MODEL"}},
		{
			name:     "temperature out of range",
			cfg:      Config{Backend: BackendOllama, Ollama: ProviderOllama{Model: "llama3"}, Tuning: SharedTuning{Temperature: 3}},
			wantText: "MODEL_TEMPERATURE",
		},
		{
			name:     "negative max tokens",
			cfg:      Config{Backend: BackendOllama, Ollama: ProviderOllama{Model: "llama3"}, Tuning: SharedTuning{MaxTokens: -1}},
			wantText: "MODEL_MAX_TOKENS",
		},
		{name: "unknown backend", cfg: Config{Backend: "bedrock"}, wantErr: ErrUnknownBackend, wantText: "ark, azure, gemini, ollama, openai"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()

			wantOK := len(tc.wantMissing) == 0 && tc.wantErr == nil && tc.wantText == ""
			if wantOK {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if len(tc.wantMissing) > 0 && !errors.Is(err, ErrMissingSetting) {
				t.Errorf("want ErrMissingSetting, got %v", err)
			}
			for _, env := range tc.wantMissing {
				if !strings.Contains(err.Error(), env) {
					t.Errorf("error %q does not name %s", err, env)
				}
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("want %v, got %v", tc.wantErr, err)
			}
			if tc.wantText != "" && !strings.Contains(err.Error(), tc.wantText) {
				t.Errorf("error %q does not mention %q", err, tc.wantText)
			}
		})
	}
}

func TestNew_RejectsInvalidConfigBeforeBuilding(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), &Config{Backend: BackendOpenAI})
	if !errors.Is(err, ErrMissingSetting) {
		t.Fatalf("want ErrMissingSetting, got %v", err)
	}
}

func TestBackends_AllRegistered(t *testing.T) {
	t.Parallel()
	want := []string{"ark", "azure", "gemini", "ollama", "openai"}
	if got := Backends(); !slices.Equal(got, want) {
		t.Errorf("Backends() = %v, want %v", got, want)
	}
}

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		backend   Backend
		model     string
		maxTokens int
		temp      float32
	}{
		{
			name:      "defaults",
			env:       map[string]string{"GOOGLE_API_KEY": "AIza"},
			backend:   BackendGemini,
			model:     DefaultGeminiModel,
			maxTokens: DefaultMaxTokens,
			temp:      DefaultTemperature,
		},
		{
			name:      "ollama with tuning",
			env:       map[string]string{"MODEL_PROVIDER": "Ollama", "OLLAMA_MODEL": "qwen2.5", "MODEL_MAX_TOKENS": "512", "MODEL_TEMPERATURE": "0"},
			backend:   BackendOllama,
			model:     "qwen2.5",
			maxTokens: 512,
			temp:      0,
		},
		{
			name:      "malformed numbers fall back",
			env:       map[string]string{"MODEL_PROVIDER": "ark", "ARK_MODEL": "ep-1", "MODEL_MAX_TOKENS": "lots", "MODEL_TEMPERATURE": "warm"},
			backend:   BackendArk,
			model:     "ep-1",
			maxTokens: DefaultMaxTokens,
			temp:      DefaultTemperature,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"MODEL_PROVIDER", "GEMINI_MODEL", "OLLAMA_MODEL", "ARK_MODEL", "MODEL_TEMPERATURE", "MODEL_MAX_TOKENS"} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg := ConfigFromEnv()
			if cfg.Backend != tc.backend {
				t.Errorf("Backend = %q, want %q", cfg.Backend, tc.backend)
			}
			if cfg.ModelName() != tc.model {
				t.Errorf("ModelName() = %q, want %q", cfg.ModelName(), tc.model)
			}
			if cfg.Tuning.MaxTokens != tc.maxTokens || cfg.Tuning.Temperature != tc.temp {
				t.Errorf("Tuning = %+v, want %d/%v", cfg.Tuning, tc.maxTokens, tc.temp)
			}
		})
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()

	reasoning := []string{"o1", "o1-preview", "o3-mini", "o4-mini", "O1-PREVIEW", "codex-mini"}
	chat := []string{"gpt-5.2-codex", "gpt-4o", "gpt-4.1", "gpt-35-turbo", ""}
	for _, d := range reasoning {
		if !isAzureReasoningModel(d) {
			t.Errorf("%q should be a reasoning model", d)
		}
	}
	for _, d := range chat {
		if isAzureReasoningModel(d) {
			t.Errorf("%q should not be a reasoning model", d)
		}
	}
}

func TestSharedTuning_SamplingCopies(t *testing.T) {
	t.Parallel()
	tuning := SharedTuning{MaxTokens: 100, Temperature: 0.5}
	m1, t1 := tuning.sampling()
	m2, _ := tuning.sampling()
	*m1, *t1 = 1, 1
	if *m2 != 100 || tuning.MaxTokens != 100 || tuning.Temperature != 0.5 {
		t.Error("sampling pointers alias each other or the config")
	}
}
