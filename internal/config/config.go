package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultSystemPrompt = "You are a helpful and friendly AI assistant. Keep your responses concise and engaging. " +
		"Be conversational and helpful."
)

// ModelConfig is one entry of the model catalog offered to the user.
type ModelConfig struct {
	ID           string `mapstructure:"id" json:"id"`
	Name         string `mapstructure:"name" json:"name"`
	Model        string `mapstructure:"model" json:"model"` // underlying provider model
	SystemPrompt string `mapstructure:"system_prompt" json:"system_prompt"`
	Premium      bool   `mapstructure:"premium" json:"premium"`
}

type Config struct {
	HTTPPort           string        `mapstructure:"http_port"`
	DatabaseURL        string        `mapstructure:"database_url"`
	LogLevel           string        `mapstructure:"log_level"`
	DailyLimit         int           `mapstructure:"daily_limit"`
	QuotaFailOpen      bool          `mapstructure:"quota_fail_open"`
	LLMProvider        string        `mapstructure:"llm_provider"`
	OpenAIAPIKey       string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL      string        `mapstructure:"openai_base_url"`
	GeminiAPIKey       string        `mapstructure:"gemini_api_key"`
	DefaultModel       string        `mapstructure:"default_model"`
	DailyResetSchedule string        `mapstructure:"daily_reset_schedule"`
	Models             []ModelConfig `mapstructure:"models"`
}

// DefaultModels is the catalog used when config.yaml does not provide one.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{
			ID:           "gpt-4o-mini",
			Name:         "GPT-4o Mini",
			Model:        "gpt-4o-mini",
			SystemPrompt: DefaultSystemPrompt,
		},
		{
			ID:           "gpt-4o",
			Name:         "GPT-4o",
			Model:        "gpt-4o",
			SystemPrompt: "You are an advanced AI assistant with deep knowledge across many domains. Give thorough, accurate and well-structured answers.",
			Premium:      true,
		},
		{
			ID:           "creative-writer",
			Name:         "Creative Writer",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You are a creative writing assistant. Help with stories, poems, emails and any text that needs a vivid, engaging voice.",
		},
		{
			ID:           "code-expert",
			Name:         "Code Expert",
			Model:        "gpt-4o",
			SystemPrompt: "You are an expert software engineer. Explain, review and debug code precisely, and prefer short runnable examples.",
			Premium:      true,
		},
	}
}

// Load reads an optional .env file, then config.yaml from the working
// directory or ./config, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional
	return load(viper.New(), ".", "./config")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetDefault("http_port", "8080")
	v.SetDefault("database_url", "hulk_chat.db")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("daily_limit", 5)
	v.SetDefault("quota_fail_open", true)
	v.SetDefault("llm_provider", ProviderOpenAI)
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("default_model", "gpt-4o-mini")
	v.SetDefault("daily_reset_schedule", "0 0 0 * * *")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels()
	}
	for i := range cfg.Models {
		if cfg.Models[i].SystemPrompt == "" {
			cfg.Models[i].SystemPrompt = DefaultSystemPrompt
		}
		if cfg.Models[i].Model == "" {
			cfg.Models[i].Model = cfg.Models[i].ID
		}
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything that does not depend on which command runs.
func (c *Config) Validate() error {
	if c.DailyLimit < 1 {
		return fmt.Errorf("daily_limit must be at least 1, got %d", c.DailyLimit)
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported llm_provider %q", c.LLMProvider)
	}

	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.ID == "" {
			return errors.New("model catalog entry without id")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q in catalog", m.ID)
		}
		seen[m.ID] = true
	}

	def, ok := c.Model(c.DefaultModel)
	if !ok {
		return fmt.Errorf("default_model %q is not in the model catalog", c.DefaultModel)
	}
	if def.Premium {
		return fmt.Errorf("default_model %q must not require premium", c.DefaultModel)
	}
	return nil
}

// RequireProviderKey reports whether the configured completion provider can be reached.
func (c *Config) RequireProviderKey() error {
	switch c.LLMProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY environment variable is required")
		}
	default:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY environment variable is required")
		}
	}
	return nil
}

func (c *Config) Model(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}
