package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/eventcollector/internal/buffer"
	"github.com/hyperifyio/eventcollector/internal/cache"
	"github.com/hyperifyio/eventcollector/internal/clock"
	"github.com/hyperifyio/eventcollector/internal/collect"
	"github.com/hyperifyio/eventcollector/internal/event"
	"github.com/hyperifyio/eventcollector/internal/extract"
	"github.com/hyperifyio/eventcollector/internal/fetch"
	"github.com/hyperifyio/eventcollector/internal/llm"
	"github.com/hyperifyio/eventcollector/internal/metrics"
	"github.com/hyperifyio/eventcollector/internal/oracle"
	"github.com/hyperifyio/eventcollector/internal/render"
	"github.com/hyperifyio/eventcollector/internal/robots"
	"github.com/hyperifyio/eventcollector/internal/sources"
	"github.com/hyperifyio/eventcollector/internal/store"
)

// ErrMissingAPIKey is returned by Run when the hosted endpoint is configured
// without a key.
var ErrMissingAPIKey = errors.New("LLM API key not set (LLM_API_KEY or MISTRAL_API_KEY)")

// App wires the collaborators of one process invocation.
type App struct {
	cfg     Config
	runID   string
	clock   clock.Clock
	metrics *metrics.Collector
	store   *store.Store
	engine  *fetch.Engine
	chat    *llm.OpenAIProvider
	oracle  *oracle.LLM
}

// New builds the application from cfg. It touches the cache directory but
// makes no network calls.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a := &App{
		cfg:     cfg,
		runID:   uuid.NewString(),
		clock:   clock.System(),
		metrics: metrics.New(),
	}

	var httpCache *cache.HTTPCache
	var llmCache *cache.LLMCache
	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache clear failed")
			}
		}
		if cfg.CacheMaxAge > 0 {
			// best-effort: a failed purge must not stop a collection run
			if n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
				log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache purge failed")
			} else if n > 0 {
				log.Debug().Int("removed", n).Msg("cache purged")
			}
		}
		httpCache = &cache.HTTPCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
		llmCache = &cache.LLMCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	}

	a.store = store.New(cfg.EventsPath)
	a.store.Clock = a.clock
	a.store.Metrics = a.metrics

	pageClient := newPoliteHTTPClient(cfg.FetchTimeout)
	a.engine = &fetch.Engine{
		Client: &fetch.Client{
			HTTPClient:        pageClient,
			UserAgent:         cfg.UserAgent,
			PerRequestTimeout: cfg.FetchTimeout,
			Cache:             httpCache,
		},
		Extractor:       extract.SelectorExtractor{},
		MaxAttempts:     cfg.MaxAttempts,
		RenderThreshold: cfg.RenderThreshold,
		TextLimit:       cfg.TextLimit,
		Metrics:         a.metrics,
	}
	if cfg.RespectRobots {
		a.engine.Robots = &robots.Checker{HTTPClient: pageClient, UserAgent: cfg.UserAgent, Cache: httpCache}
	}
	if cfg.BrowserEnable {
		a.engine.Renderer = &render.Chrome{
			ExecPath:        cfg.BrowserExecPath,
			Headless:        true,
			NoSandbox:       cfg.BrowserNoSandbox,
			UserAgent:       cfg.UserAgent,
			NavigateTimeout: cfg.NavigateTimeout,
			SettleDelay:     cfg.SettleDelay,
		}
	}

	systemPrompt := ""
	if cfg.SystemPromptFile != "" {
		b, err := os.ReadFile(cfg.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		systemPrompt = strings.TrimSpace(string(b))
	}
	a.chat = llm.NewOpenAI(cfg.LLMBaseURL, cfg.LLMAPIKey, newLLMHTTPClient())
	a.oracle = &oracle.LLM{
		Client:       a.chat,
		Model:        cfg.LLMModel,
		SystemPrompt: systemPrompt,
		Cache:        llmCache,
		Clock:        a.clock,
	}
	return a, nil
}

// RunID identifies this invocation in logs.
func (a *App) RunID() string { return a.runID }

// Sources returns the ad-hoc source when set, else the sources file, else
// the built-in list.
func (a *App) Sources() ([]sources.Source, error) {
	switch {
	case strings.TrimSpace(a.cfg.AdhocURL) != "":
		list := sources.Adhoc(a.cfg.AdhocURL, a.cfg.AdhocSelector)
		if err := sources.Validate(list); err != nil {
			return nil, err
		}
		return list, nil
	case a.cfg.SourcesFile != "":
		return sources.Load(a.cfg.SourcesFile)
	default:
		return sources.Defaults(), nil
	}
}

// Run collects from every source and persists as it goes. The report is
// meaningful even when err is non-nil.
func (a *App) Run(ctx context.Context) (collect.Report, error) {
	if strings.TrimSpace(a.cfg.LLMAPIKey) == "" && strings.TrimRight(a.cfg.LLMBaseURL, "/") == llm.DefaultBaseURL {
		return collect.Report{}, ErrMissingAPIKey
	}
	list, err := a.Sources()
	if err != nil {
		return collect.Report{}, err
	}
	a.preflight(ctx)
	log.Info().Int("sources", len(list)).Str("mode", a.cfg.ToolsMode).Str("model", a.cfg.LLMModel).Msg("collection started")

	var rep collect.Report
	if a.cfg.ToolsMode == ModeAgent {
		rep, err = a.runAgent(ctx, list)
	} else {
		runner := &collect.Runner{
			Fetcher: a.engine,
			Oracle:  a.oracle,
			Store:   a.store,
			Buffer:  buffer.New(),
			Metrics: a.metrics,
		}
		rep, err = runner.Run(ctx, list)
	}

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("failed_sources", rep.Failed()).
		Int64("duration_ms", rep.Duration.Milliseconds()).
		Msg(rep.Summary.String())
	return rep, err
}

// preflight lists models to surface endpoint problems early. It never fails
// the run.
func (a *App) preflight(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	models, err := a.chat.ListModels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("LLM model list failed; continuing")
		return
	}
	if len(models.Models) == 0 {
		log.Warn().Msg("LLM returned zero models")
		return
	}
	log.Debug().Int("count", len(models.Models)).Msg("LLM models available")
}

// Prune rewrites the dataset without new events: expired events are
// dropped and the rest re-sorted.
func (a *App) Prune() (store.Summary, error) {
	return a.store.Persist(nil)
}

// Show prints the dataset to w, one event per line. With upcoming set,
// events that started before now are left out.
func (a *App) Show(w io.Writer, upcoming bool) error {
	data := a.store.Load()
	now := a.clock.Now()
	shown := make([]event.Event, 0, len(data.Events))
	for _, e := range data.Events {
		if upcoming {
			if start, err := event.ParseStartDate(e.StartDate); err == nil && start.Before(now) {
				continue
			}
		}
		shown = append(shown, e)
	}
	if _, err := fmt.Fprintf(w, "Updated: %s\nEvents: %d of %d\n", data.UpdatedAt, len(shown), len(data.Events)); err != nil {
		return err
	}
	for _, e := range shown {
		line := fmt.Sprintf("%-19s  %-10s  %s", e.StartDate, e.Category, e.Title)
		if e.Location != "" {
			line += " @ " + e.Location
		}
		if _, err := fmt.Fprintf(w, "%s  (%s)\n", line, e.Source); err != nil {
			return err
		}
	}
	return nil
}

// Close writes the metrics textfile when configured.
func (a *App) Close() {
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		log.Warn().Err(err).Msg("metrics not written")
	}
}
