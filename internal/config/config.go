// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type AgentConfig struct {
	Enabled bool   `yaml:"enabled"`
	CLIPath string `yaml:"cli_path,omitempty"`
}

type Config struct {
	Bot struct {
		Token    string `yaml:"token"`
		ProxyURL string `yaml:"proxy_url,omitempty"`
	} `yaml:"bot"`
	Agents struct {
		Claude AgentConfig `yaml:"claude"`
		Codex  AgentConfig `yaml:"codex"`
		Gemini AgentConfig `yaml:"gemini"`
	} `yaml:"agents"`
	Discussion struct {
		MaxRounds        int `yaml:"max_rounds"`
		ConvergenceScore int `yaml:"convergence_score"`
		ConvergenceDelta int `yaml:"convergence_delta"`
		FreeDebateRounds int `yaml:"free_debate_rounds"`
	} `yaml:"discussion"`
	Timeouts struct {
		IdleSeconds  int `yaml:"idle_seconds"`
		TotalSeconds int `yaml:"total_seconds"`
	} `yaml:"timeouts"`
	Project struct {
		Root string `yaml:"root,omitempty"`
	} `yaml:"project"`
	Sessions struct {
		Path string `yaml:"path,omitempty"`
	} `yaml:"sessions"`
	Events struct {
		Endpoint string `yaml:"endpoint,omitempty"`
	} `yaml:"events"`
}

// maxRoundsCap bounds user-requested discussion rounds.
const maxRoundsCap = 10

func Load() (*Config, error) {
	return LoadFile(Path())
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return defaults if no config file
		return defaultConfig(), nil
	}

	// Expand environment variables in config
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Token == "" {
		cfg.Bot.Token = os.Getenv("AGORA_BOT_TOKEN")
	}
	if !cfg.Agents.Claude.Enabled && !cfg.Agents.Codex.Enabled && !cfg.Agents.Gemini.Enabled {
		// Empty agents block means everything on
		cfg.Agents.Claude.Enabled = true
		cfg.Agents.Codex.Enabled = true
		cfg.Agents.Gemini.Enabled = true
	}
	if cfg.Discussion.MaxRounds == 0 {
		cfg.Discussion.MaxRounds = 5
	}
	if cfg.Discussion.MaxRounds > maxRoundsCap {
		cfg.Discussion.MaxRounds = maxRoundsCap
	}
	if cfg.Discussion.ConvergenceScore == 0 {
		cfg.Discussion.ConvergenceScore = 90
	}
	if cfg.Discussion.ConvergenceDelta == 0 {
		cfg.Discussion.ConvergenceDelta = 5
	}
	if cfg.Discussion.FreeDebateRounds == 0 {
		cfg.Discussion.FreeDebateRounds = 2
	}
	if cfg.Timeouts.IdleSeconds == 0 {
		cfg.Timeouts.IdleSeconds = 1200
	}
	if cfg.Timeouts.TotalSeconds == 0 {
		cfg.Timeouts.TotalSeconds = 1800
	}
	if cfg.Project.Root == "" {
		cfg.Project.Root, _ = os.Getwd()
	}
}

func Path() string {
	configDir, err := os.UserConfigDir()
	if err != nil || configDir == "" {
		configDir = os.ExpandEnv("$HOME/.config")
	}
	return filepath.Join(configDir, "agora", "config.yaml")
}
