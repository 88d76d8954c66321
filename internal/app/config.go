package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperifyio/eventcollector/internal/fetch"
	"github.com/hyperifyio/eventcollector/internal/llm"
	"github.com/hyperifyio/eventcollector/internal/oracle"
	"github.com/hyperifyio/eventcollector/internal/render"
	"github.com/hyperifyio/eventcollector/internal/store"
)

// Tool loop modes.
const (
	ModePipeline = "pipeline"
	ModeAgent    = "agent"
)

// Config holds runtime configuration. Values are layered flags > env >
// config file > DefaultConfig.
type Config struct {
	// LLM
	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string
	// SystemPromptFile overrides the extraction prompt.
	SystemPromptFile string

	// Data
	EventsPath  string
	SourcesFile string
	// AdhocURL replaces the source list with a single URL.
	AdhocURL      string
	AdhocSelector string

	// Cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool

	// Fetch
	UserAgent       string
	FetchTimeout    time.Duration
	MaxAttempts     int
	RenderThreshold int
	TextLimit       int
	// RespectRobots skips pages excluded by robots.txt. Off by default: the
	// configured sources are fetched whatever their robots.txt says.
	RespectRobots bool

	// Browser fallback
	BrowserEnable    bool
	BrowserExecPath  string
	BrowserNoSandbox bool
	NavigateTimeout  time.Duration
	SettleDelay      time.Duration

	// Tool loop
	ToolsMode         string
	ToolsMaxCalls     int
	ToolsMaxWallClock time.Duration

	MetricsTextfile string
	Verbose         bool
	LogJSON         bool
}

// DefaultUserAgent identifies the collector to site operators.
var DefaultUserAgent = "eventcollector/" + BuildVersion + " (+https://github.com/hyperifyio/eventcollector)"

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		LLMBaseURL:        llm.DefaultBaseURL,
		LLMModel:          oracle.DefaultModel,
		EventsPath:        store.DefaultPath,
		CacheDir:          ".eventcollector-cache",
		UserAgent:         DefaultUserAgent,
		FetchTimeout:      15 * time.Second,
		MaxAttempts:       fetch.DefaultMaxAttempts,
		RenderThreshold:   fetch.DefaultRenderThreshold,
		TextLimit:         8000,
		BrowserEnable:     true,
		NavigateTimeout:   render.DefaultNavigateTimeout,
		SettleDelay:       render.DefaultSettleDelay,
		ToolsMode:         ModePipeline,
		ToolsMaxWallClock: 30 * time.Minute,
	}
}

// ValidateConfig rejects combinations the run cannot honour.
func ValidateConfig(cfg Config) error {
	var errs []error
	if strings.TrimSpace(cfg.EventsPath) == "" {
		errs = append(errs, errors.New("events path must not be empty"))
	}
	if cfg.ToolsMode != ModePipeline && cfg.ToolsMode != ModeAgent {
		errs = append(errs, fmt.Errorf("tools mode %q: must be %q or %q", cfg.ToolsMode, ModePipeline, ModeAgent))
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}
	if cfg.TextLimit < 1 {
		errs = append(errs, errors.New("text limit must be positive"))
	}
	if cfg.RenderThreshold < 0 {
		errs = append(errs, errors.New("render threshold must not be negative"))
	}
	return errors.Join(errs...)
}
