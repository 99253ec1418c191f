package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/authentifi/internal/chat"
	"github.com/MegaGrindStone/authentifi/internal/services"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = "8080"
	defaultSessionTTL   = 30 * time.Minute
	defaultOllamaHost   = "http://localhost:11434"
	defaultSystemPrompt = "You are a research assistant. Answer the researcher's questions about the " +
		"current research topic accurately, cite sources where you can and say when you are unsure."
)

type llmConfig interface {
	gateway(systemPrompt string, logger *slog.Logger) (chat.Gateway, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type rateLimitConfig struct {
	PerMinute float64 `yaml:"perMinute"`
	Burst     int     `yaml:"burst"`
}

type config struct {
	Port         string          `yaml:"port"`
	SystemPrompt string          `yaml:"systemPrompt"`
	SessionTTL   time.Duration   `yaml:"sessionTTL"`
	RateLimit    rateLimitConfig `yaml:"rateLimit"`
	LLM          llmConfig       `yaml:"llm"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

func defaultConfig() config {
	return config{
		Port:         defaultPort,
		SystemPrompt: defaultSystemPrompt,
		SessionTTL:   defaultSessionTTL,
		LLM: &openAIConfig{
			BaseLLMConfig: BaseLLMConfig{
				Provider: "openai",
				Model:    services.DefaultOpenAIModel,
			},
		},
	}
}

// loadConfig reads the YAML config at path. A missing file yields the defaults, so the server can
// run with nothing but OPENAI_API_KEY set.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	// An empty file decodes to io.EOF and keeps the defaults.
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string          `yaml:"port"`
		SystemPrompt string          `yaml:"systemPrompt"`
		SessionTTL   string          `yaml:"sessionTTL"`
		RateLimit    rateLimitConfig `yaml:"rateLimit"`
		LLM          map[string]any  `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.SystemPrompt != "" {
		c.SystemPrompt = rawConfig.SystemPrompt
	}
	if rawConfig.SessionTTL != "" {
		ttl, err := time.ParseDuration(rawConfig.SessionTTL)
		if err != nil {
			return fmt.Errorf("invalid sessionTTL: %w", err)
		}
		c.SessionTTL = ttl
	}
	c.RateLimit = rawConfig.RateLimit

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm
	return nil
}

func (o openAIConfig) gateway(systemPrompt string, logger *slog.Logger) (chat.Gateway, error) {
	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, o.Parameters, logger), nil
}

func (o ollamaConfig) gateway(systemPrompt string, logger *slog.Logger) (chat.Gateway, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, systemPrompt, o.Parameters, logger)
}

func (a anthropicConfig) gateway(systemPrompt string, logger *slog.Logger) (chat.Gateway, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, systemPrompt, a.MaxTokens, a.Parameters, logger), nil
}

func (o openRouterConfig) gateway(systemPrompt string, logger *slog.Logger) (chat.Gateway, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenRouter(apiKey, o.Endpoint, o.Model, systemPrompt, o.Parameters, logger), nil
}
