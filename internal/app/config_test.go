package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.LLMModel != "mistral-small-latest" {
		t.Fatalf("model = %q", cfg.LLMModel)
	}
	if cfg.EventsPath != "web/public/data/events.json" {
		t.Fatalf("events path = %q", cfg.EventsPath)
	}
	if cfg.MaxAttempts != 3 || cfg.RenderThreshold != 500 || cfg.TextLimit != 8000 {
		t.Fatalf("fetch defaults = %d/%d/%d", cfg.MaxAttempts, cfg.RenderThreshold, cfg.TextLimit)
	}
	if cfg.RespectRobots {
		t.Fatalf("robots.txt checks should be opt-in")
	}
}

func TestValidateConfig_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"empty events path", func(c *Config) { c.EventsPath = " " }, "events path"},
		{"bad mode", func(c *Config) { c.ToolsMode = "harmony" }, "tools mode"},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "max attempts"},
		{"zero text limit", func(c *Config) { c.TextLimit = 0 }, "text limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigFile_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "eventcollector.yaml")
	yamlDoc := `events: out/events.json
llm:
  model: mistral-large-latest
fetch:
  timeout: 9s
  renderThreshold: 300
browser:
  enable: false
  settleDelay: 1s
tools:
  mode: agent
`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fc, err := LoadConfigFile(yamlPath)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if cfg.EventsPath != "out/events.json" || cfg.LLMModel != "mistral-large-latest" {
		t.Fatalf("strings not applied: %+v", cfg)
	}
	if cfg.FetchTimeout != 9*time.Second || cfg.SettleDelay != time.Second {
		t.Fatalf("durations not applied: %v %v", cfg.FetchTimeout, cfg.SettleDelay)
	}
	if cfg.RenderThreshold != 300 || cfg.BrowserEnable || cfg.ToolsMode != ModeAgent {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	// untouched keys keep defaults
	if cfg.MaxAttempts != 3 || cfg.TextLimit != 8000 {
		t.Fatalf("defaults lost: %+v", cfg)
	}

	jsonPath := filepath.Join(dir, "eventcollector.json")
	if err := os.WriteFile(jsonPath, []byte(`{"sources":"sources.yaml","cache":{"maxAge":"24h"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fc, err = LoadConfigFile(jsonPath)
	if err != nil {
		t.Fatalf("LoadConfigFile json: %v", err)
	}
	cfg = DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if cfg.SourcesFile != "sources.yaml" || cfg.CacheMaxAge != 24*time.Hour {
		t.Fatalf("json not applied: %+v", cfg)
	}
}

func TestApplyFileConfig_BadDuration(t *testing.T) {
	var fc FileConfig
	fc.Fetch.Timeout = "soon"
	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc); err == nil || !strings.Contains(err.Error(), "fetch.timeout") {
		t.Fatalf("expected fetch.timeout error, got %v", err)
	}
}

// env overrides the file; the file overrides defaults.
func TestConfigLayering_EnvOverFile(t *testing.T) {
	t.Setenv("EVENTS_PATH", "env/events.json")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("MISTRAL_API_KEY", "mistral-key")
	t.Setenv("FETCH_MAX_ATTEMPTS", "5")
	t.Setenv("BROWSER_ENABLE", "false")
	t.Setenv("TOOLS_MAX_WALL_CLOCK", "90s")

	var fc FileConfig
	fc.Events = "file/events.json"
	fc.LLM.Model = "file-model"
	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	ApplyEnvOverrides(&cfg)

	if cfg.EventsPath != "env/events.json" {
		t.Fatalf("EventsPath = %q", cfg.EventsPath)
	}
	if cfg.LLMModel != "file-model" {
		t.Fatalf("LLMModel = %q", cfg.LLMModel)
	}
	if cfg.LLMAPIKey != "mistral-key" {
		t.Fatalf("LLMAPIKey = %q", cfg.LLMAPIKey)
	}
	if cfg.MaxAttempts != 5 || cfg.BrowserEnable || cfg.ToolsMaxWallClock != 90*time.Second {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestApplyEnvOverrides_LLMKeyPreferred(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "a")
	t.Setenv("LLM_API_KEY", "b")
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if cfg.LLMAPIKey != "b" {
		t.Fatalf("LLMAPIKey = %q, want b", cfg.LLMAPIKey)
	}
}
