package config

import (
	"cmp"
	"fmt"
	"net/url"
	"os"

	"github.com/goccy/go-yaml"
)

// Defaults applied when the config file omits a value.
const (
	DefaultModelBaseURL = "http://127.0.0.1:12434/engines/v1"
	DefaultModel        = "ai/qwen2.5"
	DefaultSandboxURL   = "ws://127.0.0.1:8765/sandbox"
	DefaultMaxRounds    = 5
	DefaultMaxTokens    = 2048
)

type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Chat    ChatConfig    `yaml:"chat"`
}

type ModelConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type SandboxConfig struct {
	URL string `yaml:"url"`
}

type ChatConfig struct {
	// MaxRounds bounds the model-call/tool-call rounds per turn.
	MaxRounds int `yaml:"max_rounds"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a YAML config file, filling in defaults for
// anything omitted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file\n%s", yaml.FormatError(err, true, true))
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Model.BaseURL = cmp.Or(c.Model.BaseURL, DefaultModelBaseURL)
	c.Model.Model = cmp.Or(c.Model.Model, DefaultModel)
	c.Model.MaxTokens = cmp.Or(c.Model.MaxTokens, DefaultMaxTokens)
	c.Sandbox.URL = cmp.Or(c.Sandbox.URL, DefaultSandboxURL)
	c.Chat.MaxRounds = cmp.Or(c.Chat.MaxRounds, DefaultMaxRounds)
}

func (c *Config) validate() error {
	if _, err := url.Parse(c.Model.BaseURL); err != nil {
		return fmt.Errorf("invalid model base_url: %w", err)
	}

	u, err := url.Parse(c.Sandbox.URL)
	if err != nil {
		return fmt.Errorf("invalid sandbox url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("sandbox url must use the ws or wss scheme, got %q", u.Scheme)
	}

	if c.Chat.MaxRounds < 1 {
		return fmt.Errorf("chat.max_rounds must be at least 1, got %d", c.Chat.MaxRounds)
	}
	return nil
}
