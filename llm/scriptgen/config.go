package scriptgen

import (
	"time"

	"github.com/BaSui01/cadflow/script"
)

// ClientConfig configures one generator backend. Every generator owns its
// configuration; there is no shared client.
type ClientConfig struct {
	BaseURL  string          `yaml:"base_url" json:"base_url"`
	APIKey   string          `yaml:"api_key" json:"-"`
	Model    string          `yaml:"model" json:"model"`
	Timeout  time.Duration   `yaml:"timeout" json:"timeout"`
	Language script.Language `yaml:"language" json:"language"`
}

// DefaultGeminiConfig returns the Gemini generateContent defaults.
func DefaultGeminiConfig() ClientConfig {
	return ClientConfig{
		BaseURL:  "https://generativelanguage.googleapis.com",
		Model:    "gemini-1.5-flash",
		Timeout:  60 * time.Second,
		Language: script.OpenSCAD,
	}
}

// DefaultOllamaConfig returns defaults for a local Ollama daemon.
func DefaultOllamaConfig() ClientConfig {
	return ClientConfig{
		BaseURL:  "http://127.0.0.1:11434",
		Model:    "qwen2.5-coder:7b",
		Timeout:  120 * time.Second,
		Language: script.OpenSCAD,
	}
}

// DefaultRemoteConfig returns defaults for a remote generation service.
func DefaultRemoteConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "http://127.0.0.1:8000",
		Timeout: 60 * time.Second,
	}
}

func withDefaults(cfg, def ClientConfig) ClientConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	return cfg
}
