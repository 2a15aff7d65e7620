// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discussion.MaxRounds != 5 {
		t.Errorf("MaxRounds = %d, want 5", cfg.Discussion.MaxRounds)
	}
	if cfg.Discussion.ConvergenceScore != 90 {
		t.Errorf("ConvergenceScore = %d, want 90", cfg.Discussion.ConvergenceScore)
	}
	if cfg.Discussion.ConvergenceDelta != 5 {
		t.Errorf("ConvergenceDelta = %d, want 5", cfg.Discussion.ConvergenceDelta)
	}
	if cfg.Timeouts.IdleSeconds != 1200 || cfg.Timeouts.TotalSeconds != 1800 {
		t.Errorf("timeouts = %d/%d, want 1200/1800",
			cfg.Timeouts.IdleSeconds, cfg.Timeouts.TotalSeconds)
	}
	if !cfg.Agents.Claude.Enabled || !cfg.Agents.Codex.Enabled || !cfg.Agents.Gemini.Enabled {
		t.Error("all agents should default enabled")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
bot:
  token: "123:abc"
agents:
  claude:
    enabled: true
    cli_path: /opt/claude
discussion:
  max_rounds: 3
  convergence_score: 85
timeouts:
  idle_seconds: 60
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bot.Token != "123:abc" {
		t.Errorf("Token = %q", cfg.Bot.Token)
	}
	if cfg.Agents.Claude.CLIPath != "/opt/claude" {
		t.Errorf("CLIPath = %q", cfg.Agents.Claude.CLIPath)
	}
	if cfg.Discussion.MaxRounds != 3 {
		t.Errorf("MaxRounds = %d, want 3", cfg.Discussion.MaxRounds)
	}
	if cfg.Discussion.ConvergenceScore != 85 {
		t.Errorf("ConvergenceScore = %d, want 85", cfg.Discussion.ConvergenceScore)
	}
	if cfg.Timeouts.IdleSeconds != 60 {
		t.Errorf("IdleSeconds = %d, want 60", cfg.Timeouts.IdleSeconds)
	}
	// Unset fields still get defaults.
	if cfg.Discussion.FreeDebateRounds != 2 {
		t.Errorf("FreeDebateRounds = %d, want 2", cfg.Discussion.FreeDebateRounds)
	}
	// Only claude was configured, so codex/gemini stay off.
	if cfg.Agents.Codex.Enabled || cfg.Agents.Gemini.Enabled {
		t.Error("unconfigured agents should stay disabled when one is set")
	}
}

func TestLoadFileMaxRoundsCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("discussion:\n  max_rounds: 50\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discussion.MaxRounds != maxRoundsCap {
		t.Errorf("MaxRounds = %d, want cap %d", cfg.Discussion.MaxRounds, maxRoundsCap)
	}
}

func TestLoadFileEnvExpansion(t *testing.T) {
	t.Setenv("AGORA_TEST_TOKEN", "tok-from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bot:\n  token: \"$AGORA_TEST_TOKEN\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bot.Token != "tok-from-env" {
		t.Errorf("Token = %q, want tok-from-env", cfg.Bot.Token)
	}
}

func TestLoadFileBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\t{{bad"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}
