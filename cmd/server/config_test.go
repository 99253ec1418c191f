package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/authentifi/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, defaultSessionTTL, cfg.SessionTTL)
	assert.NotEmpty(t, cfg.SystemPrompt)

	llm, ok := cfg.LLM.(*openAIConfig)
	require.True(t, ok)
	assert.Equal(t, services.DefaultOpenAIModel, llm.Model)
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Port)
}

func TestConfig_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg config)
	}{
		{
			name: "openai with parameters",
			yaml: `
port: "9090"
systemPrompt: Be brief.
sessionTTL: 10m
rateLimit:
  perMinute: 12
  burst: 3
llm:
  provider: openai
  model: gpt-4o
  apiKey: sk-test
  parameters:
    temperature: 0.2
    maxTokens: 512
`,
			check: func(t *testing.T, cfg config) {
				assert.Equal(t, "9090", cfg.Port)
				assert.Equal(t, "Be brief.", cfg.SystemPrompt)
				assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
				assert.InDelta(t, 12, cfg.RateLimit.PerMinute, 0.001)
				assert.Equal(t, 3, cfg.RateLimit.Burst)

				llm, ok := cfg.LLM.(*openAIConfig)
				require.True(t, ok)
				assert.Equal(t, "gpt-4o", llm.Model)
				assert.Equal(t, "sk-test", llm.APIKey)
				require.NotNil(t, llm.Parameters.Temperature)
				assert.InDelta(t, 0.2, *llm.Parameters.Temperature, 0.001)
				require.NotNil(t, llm.Parameters.MaxTokens)
				assert.Equal(t, 512, *llm.Parameters.MaxTokens)
			},
		},
		{
			name: "ollama keeps defaults for missing keys",
			yaml: `
llm:
  provider: ollama
  model: llama3
  host: http://ollama:11434
`,
			check: func(t *testing.T, cfg config) {
				assert.Equal(t, defaultPort, cfg.Port)
				llm, ok := cfg.LLM.(*ollamaConfig)
				require.True(t, ok)
				assert.Equal(t, "llama3", llm.Model)
				assert.Equal(t, "http://ollama:11434", llm.Host)
			},
		},
		{
			name: "anthropic",
			yaml: `
llm:
  provider: anthropic
  model: claude-3-5-sonnet-latest
  maxTokens: 1024
`,
			check: func(t *testing.T, cfg config) {
				llm, ok := cfg.LLM.(*anthropicConfig)
				require.True(t, ok)
				assert.Equal(t, 1024, llm.MaxTokens)
			},
		},
		{
			name: "openrouter",
			yaml: `
llm:
  provider: openrouter
  model: openai/gpt-4o-mini
`,
			check: func(t *testing.T, cfg config) {
				llm, ok := cfg.LLM.(*openRouterConfig)
				require.True(t, ok)
				assert.Equal(t, "openai/gpt-4o-mini", llm.Model)
			},
		},
		{
			name:    "unknown provider",
			yaml:    "llm:\n  provider: mystery\n",
			wantErr: true,
		},
		{
			name:    "missing provider",
			yaml:    "llm:\n  model: gpt-4o\n",
			wantErr: true,
		},
		{
			name:    "invalid session ttl",
			yaml:    "sessionTTL: soon\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLLMConfig_Gateway(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("openai needs an api key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := openAIConfig{}.gateway("", logger)
		assert.Error(t, err)

		t.Setenv("OPENAI_API_KEY", "sk-env")
		gw, err := openAIConfig{}.gateway("", logger)
		require.NoError(t, err)
		assert.NotNil(t, gw)
	})

	t.Run("ollama falls back to the default host", func(t *testing.T) {
		t.Setenv("OLLAMA_HOST", "")
		gw, err := ollamaConfig{BaseLLMConfig: BaseLLMConfig{Model: "llama3"}}.gateway("", logger)
		require.NoError(t, err)
		assert.NotNil(t, gw)
	})

	t.Run("anthropic needs max tokens", func(t *testing.T) {
		_, err := anthropicConfig{BaseLLMConfig: BaseLLMConfig{Model: "claude"}}.gateway("", logger)
		assert.Error(t, err)
	})

	t.Run("openrouter needs a model", func(t *testing.T) {
		_, err := openRouterConfig{}.gateway("", logger)
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug", "json")
	require.NoError(t, err)

	_, err = newLogger("loud", "text")
	assert.Error(t, err)

	_, err = newLogger("info", "xml")
	assert.Error(t, err)
}
