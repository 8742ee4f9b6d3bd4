// Package config loads the server configuration: provider credentials, the
// model catalogue with per-token pricing, and plan step ceilings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/joho/godotenv"
)

// ProviderConfig describes one backing model provider.
type ProviderConfig struct {
	ID           string            `json:"id"`
	Type         catwalk.Type      `json:"type"`
	BaseURL      string            `json:"base_url,omitempty"`
	APIKey       string            `json:"api_key,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
	Models       []catwalk.Model   `json:"models"`
}

// SelectedModel points at one model of one configured provider.
type SelectedModel struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Options struct {
	Debug         bool   `json:"debug,omitempty"`
	DataDirectory string `json:"data_directory,omitempty"`
	LogFile       string `json:"log_file,omitempty"`
}

type Config struct {
	Providers map[string]ProviderConfig `json:"providers"`

	// Primary is the model a fresh turn runs against. The fallback model is
	// fixed in code, not configured; see the agent package.
	Primary SelectedModel `json:"primary"`

	// PlanCeilings caps tool-use steps per plan regardless of balance.
	PlanCeilings       map[string]int `json:"plan_ceilings,omitempty"`
	DefaultPlanCeiling int            `json:"default_plan_ceiling,omitempty"`

	Options Options `json:"options,omitempty"`
}

// Load reads the config file, layering .env from the working directory for
// API key resolution. A missing config file yields defaults.
func Load(workingDir, configPath string, debug bool) (*Config, error) {
	_ = godotenv.Load(filepath.Join(workingDir, ".env"))

	cfg := defaultConfig()
	cfg.Options.Debug = debug

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
		}
	}

	if cfg.Options.DataDirectory == "" {
		cfg.Options.DataDirectory = filepath.Join(workingDir, ".ember")
	}
	if cfg.Options.LogFile == "" {
		cfg.Options.LogFile = filepath.Join(cfg.Options.DataDirectory, "ember.log")
	}

	for id, p := range cfg.Providers {
		p.APIKey = resolveEnv(p.APIKey)
		for k, v := range p.ExtraHeaders {
			p.ExtraHeaders[k] = resolveEnv(v)
		}
		cfg.Providers[id] = p
	}

	return cfg, nil
}

// resolveEnv expands a $VAR reference to its environment value.
func resolveEnv(value string) string {
	if strings.HasPrefix(value, "$") {
		return os.Getenv(strings.TrimPrefix(value, "$"))
	}
	return value
}

func defaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"openai": {
				ID:     "openai",
				Type:   catwalk.TypeOpenAI,
				APIKey: "$OPENAI_API_KEY",
				Models: []catwalk.Model{
					{
						ID:               "gpt-4o",
						Name:             "GPT-4o",
						CostPer1MIn:      2.5,
						CostPer1MOut:     10,
						DefaultMaxTokens: 8192,
					},
				},
			},
			"anthropic": {
				ID:     "anthropic",
				Type:   catwalk.TypeAnthropic,
				APIKey: "$ANTHROPIC_API_KEY",
				Models: []catwalk.Model{
					{
						ID:               "claude-sonnet-4-20250514",
						Name:             "Claude Sonnet 4",
						CostPer1MIn:      3,
						CostPer1MOut:     15,
						DefaultMaxTokens: 8192,
					},
				},
			},
		},
		Primary: SelectedModel{Provider: "openai", Model: "gpt-4o"},
		PlanCeilings: map[string]int{
			"free": 5,
			"pro":  25,
			"max":  50,
		},
		DefaultPlanCeiling: 10,
	}
}

// GetModel resolves a model id across all configured providers.
func (c *Config) GetModel(providerID, modelID string) (catwalk.Model, bool) {
	p, ok := c.Providers[providerID]
	if !ok {
		return catwalk.Model{}, false
	}
	for _, m := range p.Models {
		if m.ID == modelID {
			return m, true
		}
	}
	return catwalk.Model{}, false
}

// FindModel searches every provider for a model id.
func (c *Config) FindModel(modelID string) (ProviderConfig, catwalk.Model, bool) {
	for _, p := range c.Providers {
		for _, m := range p.Models {
			if m.ID == modelID {
				return p, m, true
			}
		}
	}
	return ProviderConfig{}, catwalk.Model{}, false
}

func (c *Config) IsConfigured() bool {
	return len(c.Providers) > 0
}
