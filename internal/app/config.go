package app

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// ModelMaxTokens is the model's context window; the per-chat context
	// threshold is a fraction of it.
	ModelMaxTokens int `yaml:"model_max_tokens"`
	// DefaultContextThreshold seeds new chats, in [0, 0.95].
	DefaultContextThreshold float64 `yaml:"default_context_threshold"`
	SendOnEnter             bool    `yaml:"send_on_enter"`
	StorageRoot             string  `yaml:"storage_root"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:                 "https://api.openai.com/v1",
		Model:                   "gpt-4o-mini",
		ModelMaxTokens:          4096,
		DefaultContextThreshold: 0.7,
		SendOnEnter:             true,
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.ModelMaxTokens <= 0 {
		cfg.ModelMaxTokens = 4096
	}
	cfg.DefaultContextThreshold = ClampThreshold(cfg.DefaultContextThreshold)
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "chatwin", "config.yml")
}
