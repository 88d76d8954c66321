package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides overrides cfg fields with environment variables that are
// set, letting env take precedence over the config file while flags remain
// highest precedence.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	// MISTRAL_API_KEY is what the hosted deployment provides
	if v := os.Getenv("MISTRAL_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("SYSTEM_PROMPT_FILE"); v != "" {
		cfg.SystemPromptFile = v
	}

	if v := os.Getenv("EVENTS_PATH"); v != "" {
		cfg.EventsPath = v
	}
	if v := os.Getenv("SOURCES_FILE"); v != "" {
		cfg.SourcesFile = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("FETCH_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("BROWSER_EXEC_PATH"); v != "" {
		cfg.BrowserExecPath = v
	}
	if v := os.Getenv("TOOLS_MODE"); v != "" {
		cfg.ToolsMode = v
	}
	if v := os.Getenv("METRICS_TEXTFILE"); v != "" {
		cfg.MetricsTextfile = v
	}

	envInt := func(dst *int, envKey string) {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(envKey))); err == nil && n > 0 {
			*dst = n
		}
	}
	envInt(&cfg.MaxAttempts, "FETCH_MAX_ATTEMPTS")
	envInt(&cfg.RenderThreshold, "FETCH_RENDER_THRESHOLD")
	envInt(&cfg.TextLimit, "FETCH_TEXT_LIMIT")
	envInt(&cfg.ToolsMaxCalls, "TOOLS_MAX_CALLS")

	setDuration := func(dst *time.Duration, envKey string) {
		if s := os.Getenv(envKey); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				*dst = d
			}
		}
	}
	setDuration(&cfg.CacheMaxAge, "CACHE_MAX_AGE")
	setDuration(&cfg.FetchTimeout, "FETCH_TIMEOUT")
	setDuration(&cfg.NavigateTimeout, "BROWSER_NAVIGATE_TIMEOUT")
	setDuration(&cfg.SettleDelay, "BROWSER_SETTLE_DELAY")
	setDuration(&cfg.ToolsMaxWallClock, "TOOLS_MAX_WALL_CLOCK")

	// booleans override when env present and truthy/falsey
	setBool := func(dst *bool, envKey string) {
		if s := strings.ToLower(strings.TrimSpace(os.Getenv(envKey))); s != "" {
			switch s {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.LogJSON, "LOG_JSON")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
	setBool(&cfg.RespectRobots, "FETCH_RESPECT_ROBOTS")
	setBool(&cfg.BrowserEnable, "BROWSER_ENABLE")
	setBool(&cfg.BrowserNoSandbox, "BROWSER_NO_SANDBOX")
}
