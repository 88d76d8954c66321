package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hyperifyio/eventcollector/internal/app"
	"github.com/hyperifyio/eventcollector/internal/collect"
)

// options holds flag values and the resolved configuration of one
// invocation.
type options struct {
	flags      app.Config
	configPath string
	envFile    string
	upcoming   bool
	cfg        app.Config
	stdout     io.Writer
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	o := &options{flags: app.DefaultConfig(), stdout: stdout}
	cmd := &cobra.Command{
		Use:   "eventcollector",
		Short: "Collect local events from web pages into events.json",
		Long: `Collects upcoming events for Brønnøysund from a list of web pages.
Each page is fetched (falling back to a headless browser for script-built
pages), events are extracted by an LLM and merged into the dataset file,
skipping duplicates and dropping events older than 30 days.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: o.prepare,
		RunE:              o.runCollect,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Path to YAML or JSON config file")
	pf.StringVar(&o.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	pf.BoolVarP(&o.flags.Verbose, "verbose", "v", o.flags.Verbose, "Debug logging")
	pf.BoolVar(&o.flags.LogJSON, "log.json", o.flags.LogJSON, "Log JSON lines instead of console output")
	pf.StringVar(&o.flags.EventsPath, "events", o.flags.EventsPath, "Path to the events dataset")
	pf.StringVar(&o.flags.SourcesFile, "sources", o.flags.SourcesFile, "YAML file listing sources (default: built-in list)")
	pf.StringVar(&o.flags.LLMBaseURL, "llm.base", o.flags.LLMBaseURL, "OpenAI-compatible base URL")
	pf.StringVar(&o.flags.LLMModel, "llm.model", o.flags.LLMModel, "Model name")
	pf.StringVar(&o.flags.LLMAPIKey, "llm.key", "", "API key for the model endpoint")
	pf.StringVar(&o.flags.SystemPromptFile, "llm.systemPromptFile", "", "File overriding the extraction system prompt")
	pf.StringVar(&o.flags.CacheDir, "cache.dir", o.flags.CacheDir, "Cache directory path; empty disables caching")
	pf.DurationVar(&o.flags.CacheMaxAge, "cache.maxAge", 0, "Purge cache entries older than this; 0 disables")
	pf.BoolVar(&o.flags.CacheClear, "cache.clear", false, "Clear cache directory before run")
	pf.BoolVar(&o.flags.CacheStrictPerms, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
	pf.StringVar(&o.flags.UserAgent, "fetch.userAgent", o.flags.UserAgent, "User-Agent for page fetches")
	pf.DurationVar(&o.flags.FetchTimeout, "fetch.timeout", o.flags.FetchTimeout, "Per-request timeout for static fetches")
	pf.IntVar(&o.flags.MaxAttempts, "fetch.maxAttempts", o.flags.MaxAttempts, "Static fetch attempts before browser fallback")
	pf.IntVar(&o.flags.RenderThreshold, "fetch.renderThreshold", o.flags.RenderThreshold, "Minimum static text length before browser fallback")
	pf.IntVar(&o.flags.TextLimit, "fetch.textLimit", o.flags.TextLimit, "Maximum characters of page text passed on")
	pf.BoolVar(&o.flags.RespectRobots, "fetch.respectRobots", o.flags.RespectRobots, "Skip pages excluded by robots.txt")
	pf.BoolVar(&o.flags.BrowserEnable, "browser.enable", o.flags.BrowserEnable, "Fall back to headless Chrome")
	pf.StringVar(&o.flags.BrowserExecPath, "browser.execPath", "", "Chrome binary path")
	pf.BoolVar(&o.flags.BrowserNoSandbox, "browser.noSandbox", false, "Run Chrome without its sandbox (containers)")
	pf.DurationVar(&o.flags.NavigateTimeout, "browser.navigateTimeout", o.flags.NavigateTimeout, "Navigation and network idle timeout")
	pf.DurationVar(&o.flags.SettleDelay, "browser.settleDelay", o.flags.SettleDelay, "Wait after network idle")
	pf.StringVar(&o.flags.ToolsMode, "tools.mode", o.flags.ToolsMode, "Collection mode: pipeline or agent")
	pf.IntVar(&o.flags.ToolsMaxCalls, "tools.maxCalls", 0, "Agent tool call limit; 0 means 10 per source")
	pf.DurationVar(&o.flags.ToolsMaxWallClock, "tools.maxWallClock", o.flags.ToolsMaxWallClock, "Agent wall clock limit")
	pf.StringVar(&o.flags.MetricsTextfile, "metrics.textfile", "", "Write Prometheus metrics to this file after the run")

	cmd.Flags().StringVar(&o.flags.AdhocURL, "source", "", "Collect from this URL only")
	cmd.Flags().StringVar(&o.flags.AdhocSelector, "selector", "", "CSS selector for --source")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "sources",
			Short: "Print the configured source list",
			Args:  cobra.NoArgs,
			RunE:  o.runSources,
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Drop expired events and re-sort the dataset",
			Args:  cobra.NoArgs,
			RunE:  o.runPrune,
		},
		newShowCmd(o),
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(o.stdout, "eventcollector %s (%s, %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate)
			},
		},
	)
	return cmd
}

func newShowCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the events in the dataset",
		Args:  cobra.NoArgs,
		RunE:  o.runShow,
	}
	cmd.Flags().BoolVar(&o.upcoming, "upcoming", false, "Only events that have not started yet")
	return cmd
}

// prepare resolves configuration as flags > env > config file > defaults
// and sets up logging.
func (o *options) prepare(cmd *cobra.Command, _ []string) error {
	if err := app.LoadEnvFiles(o.envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg := app.DefaultConfig()
	if o.configPath != "" {
		fc, err := app.LoadConfigFile(o.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := app.ApplyFileConfig(&cfg, fc); err != nil {
			return err
		}
	}
	app.ApplyEnvOverrides(&cfg)
	cmd.Flags().Visit(func(f *pflag.Flag) { applyFlag(&cfg, o.flags, f.Name) })
	if err := app.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	o.cfg = cfg

	if cfg.LogJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return nil
}

// applyFlag copies one explicitly set flag from src into dst.
func applyFlag(dst *app.Config, src app.Config, name string) {
	switch name {
	case "verbose":
		dst.Verbose = src.Verbose
	case "log.json":
		dst.LogJSON = src.LogJSON
	case "events":
		dst.EventsPath = src.EventsPath
	case "sources":
		dst.SourcesFile = src.SourcesFile
	case "source":
		dst.AdhocURL = src.AdhocURL
	case "selector":
		dst.AdhocSelector = src.AdhocSelector
	case "llm.base":
		dst.LLMBaseURL = src.LLMBaseURL
	case "llm.model":
		dst.LLMModel = src.LLMModel
	case "llm.key":
		dst.LLMAPIKey = src.LLMAPIKey
	case "llm.systemPromptFile":
		dst.SystemPromptFile = src.SystemPromptFile
	case "cache.dir":
		dst.CacheDir = src.CacheDir
	case "cache.maxAge":
		dst.CacheMaxAge = src.CacheMaxAge
	case "cache.clear":
		dst.CacheClear = src.CacheClear
	case "cache.strictPerms":
		dst.CacheStrictPerms = src.CacheStrictPerms
	case "fetch.userAgent":
		dst.UserAgent = src.UserAgent
	case "fetch.timeout":
		dst.FetchTimeout = src.FetchTimeout
	case "fetch.maxAttempts":
		dst.MaxAttempts = src.MaxAttempts
	case "fetch.renderThreshold":
		dst.RenderThreshold = src.RenderThreshold
	case "fetch.textLimit":
		dst.TextLimit = src.TextLimit
	case "fetch.respectRobots":
		dst.RespectRobots = src.RespectRobots
	case "browser.enable":
		dst.BrowserEnable = src.BrowserEnable
	case "browser.execPath":
		dst.BrowserExecPath = src.BrowserExecPath
	case "browser.noSandbox":
		dst.BrowserNoSandbox = src.BrowserNoSandbox
	case "browser.navigateTimeout":
		dst.NavigateTimeout = src.NavigateTimeout
	case "browser.settleDelay":
		dst.SettleDelay = src.SettleDelay
	case "tools.mode":
		dst.ToolsMode = src.ToolsMode
	case "tools.maxCalls":
		dst.ToolsMaxCalls = src.ToolsMaxCalls
	case "tools.maxWallClock":
		dst.ToolsMaxWallClock = src.ToolsMaxWallClock
	case "metrics.textfile":
		dst.MetricsTextfile = src.MetricsTextfile
	}
}

func (o *options) newApp(cmd *cobra.Command) (*app.App, error) {
	a, err := app.New(cmd.Context(), o.cfg)
	if err != nil {
		return nil, err
	}
	log.Logger = log.With().Str("run_id", a.RunID()).Logger()
	return a, nil
}

func (o *options) runCollect(cmd *cobra.Command, _ []string) error {
	a, err := o.newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	started := time.Now()
	rep, err := a.Run(cmd.Context())
	switch {
	case errors.Is(err, collect.ErrUnpersisted):
		return &exitError{code: ExitCollectFailed, err: err}
	case err != nil:
		return err
	case rep.AllFailed():
		return &exitError{code: ExitCollectFailed, err: fmt.Errorf("all %d sources failed", len(rep.Outcomes))}
	}
	fmt.Fprintf(o.stdout, "%s (%d of %d sources failed, %s)\n",
		rep.Summary.String(), rep.Failed(), len(rep.Outcomes), time.Since(started).Round(time.Millisecond))
	return nil
}

func (o *options) runSources(cmd *cobra.Command, _ []string) error {
	a, err := o.newApp(cmd)
	if err != nil {
		return err
	}
	list, err := a.Sources()
	if err != nil {
		return err
	}
	for i, s := range list {
		line := fmt.Sprintf("%d. %s  %s", i+1, s.Name, s.URL)
		if s.Selector != "" {
			line += fmt.Sprintf("  (selector: %q)", s.Selector)
		}
		fmt.Fprintln(o.stdout, line)
	}
	return nil
}

func (o *options) runPrune(cmd *cobra.Command, _ []string) error {
	a, err := o.newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	sum, err := a.Prune()
	if err != nil {
		return &exitError{code: ExitCollectFailed, err: err}
	}
	fmt.Fprintf(o.stdout, "Removed %d expired, %d events left.\n", sum.RemovedExpired, sum.Total)
	return nil
}

func (o *options) runShow(cmd *cobra.Command, _ []string) error {
	a, err := o.newApp(cmd)
	if err != nil {
		return err
	}
	return a.Show(o.stdout, o.upcoming)
}
