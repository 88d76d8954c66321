package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the single-file configuration schema. Sections map onto the
// flag and env names; durations are Go duration strings such as "20s".
type FileConfig struct {
	Events  string `yaml:"events" json:"events"`
	Sources string `yaml:"sources" json:"sources"`

	LLM struct {
		BaseURL          string `yaml:"base" json:"base"`
		Model            string `yaml:"model" json:"model"`
		APIKey           string `yaml:"key" json:"key"`
		SystemPromptFile string `yaml:"systemPromptFile" json:"systemPromptFile"`
	} `yaml:"llm" json:"llm"`

	Cache struct {
		Dir         string `yaml:"dir" json:"dir"`
		MaxAge      string `yaml:"maxAge" json:"maxAge"`
		Clear       bool   `yaml:"clear" json:"clear"`
		StrictPerms bool   `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"cache" json:"cache"`

	Fetch struct {
		UserAgent       string `yaml:"userAgent" json:"userAgent"`
		Timeout         string `yaml:"timeout" json:"timeout"`
		MaxAttempts     int    `yaml:"maxAttempts" json:"maxAttempts"`
		RenderThreshold int    `yaml:"renderThreshold" json:"renderThreshold"`
		TextLimit       int    `yaml:"textLimit" json:"textLimit"`
		RespectRobots   *bool  `yaml:"respectRobots" json:"respectRobots"`
	} `yaml:"fetch" json:"fetch"`

	Browser struct {
		Enable          *bool  `yaml:"enable" json:"enable"`
		ExecPath        string `yaml:"execPath" json:"execPath"`
		NoSandbox       bool   `yaml:"noSandbox" json:"noSandbox"`
		NavigateTimeout string `yaml:"navigateTimeout" json:"navigateTimeout"`
		SettleDelay     string `yaml:"settleDelay" json:"settleDelay"`
	} `yaml:"browser" json:"browser"`

	Tools struct {
		Mode         string `yaml:"mode" json:"mode"`
		MaxCalls     int    `yaml:"maxCalls" json:"maxCalls"`
		MaxWallClock string `yaml:"maxWallClock" json:"maxWallClock"`
	} `yaml:"tools" json:"tools"`

	Metrics struct {
		Textfile string `yaml:"textfile" json:"textfile"`
	} `yaml:"metrics" json:"metrics"`

	Verbose bool `yaml:"verbose" json:"verbose"`
	LogJSON bool `yaml:"logJSON" json:"logJSON"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value set in fc onto cfg. It runs before
// ApplyEnvOverrides and flag handling, so env and flags still win.
func ApplyFileConfig(cfg *Config, fc FileConfig) error {
	if cfg == nil {
		return nil
	}
	setString(&cfg.EventsPath, fc.Events)
	setString(&cfg.SourcesFile, fc.Sources)

	setString(&cfg.LLMBaseURL, fc.LLM.BaseURL)
	setString(&cfg.LLMModel, fc.LLM.Model)
	setString(&cfg.LLMAPIKey, fc.LLM.APIKey)
	setString(&cfg.SystemPromptFile, fc.LLM.SystemPromptFile)

	setString(&cfg.CacheDir, fc.Cache.Dir)
	cfg.CacheClear = cfg.CacheClear || fc.Cache.Clear
	cfg.CacheStrictPerms = cfg.CacheStrictPerms || fc.Cache.StrictPerms

	setString(&cfg.UserAgent, fc.Fetch.UserAgent)
	setInt(&cfg.MaxAttempts, fc.Fetch.MaxAttempts)
	setInt(&cfg.RenderThreshold, fc.Fetch.RenderThreshold)
	setInt(&cfg.TextLimit, fc.Fetch.TextLimit)
	if fc.Fetch.RespectRobots != nil {
		cfg.RespectRobots = *fc.Fetch.RespectRobots
	}

	if fc.Browser.Enable != nil {
		cfg.BrowserEnable = *fc.Browser.Enable
	}
	setString(&cfg.BrowserExecPath, fc.Browser.ExecPath)
	cfg.BrowserNoSandbox = cfg.BrowserNoSandbox || fc.Browser.NoSandbox

	setString(&cfg.ToolsMode, fc.Tools.Mode)
	setInt(&cfg.ToolsMaxCalls, fc.Tools.MaxCalls)

	setString(&cfg.MetricsTextfile, fc.Metrics.Textfile)
	cfg.Verbose = cfg.Verbose || fc.Verbose
	cfg.LogJSON = cfg.LogJSON || fc.LogJSON

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"cache.maxAge", fc.Cache.MaxAge, &cfg.CacheMaxAge},
		{"fetch.timeout", fc.Fetch.Timeout, &cfg.FetchTimeout},
		{"browser.navigateTimeout", fc.Browser.NavigateTimeout, &cfg.NavigateTimeout},
		{"browser.settleDelay", fc.Browser.SettleDelay, &cfg.SettleDelay},
		{"tools.maxWallClock", fc.Tools.MaxWallClock, &cfg.ToolsMaxWallClock},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
