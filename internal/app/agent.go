package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/eventcollector/internal/buffer"
	"github.com/hyperifyio/eventcollector/internal/collect"
	"github.com/hyperifyio/eventcollector/internal/llmtools"
	"github.com/hyperifyio/eventcollector/internal/oracle"
	"github.com/hyperifyio/eventcollector/internal/sources"
	"github.com/hyperifyio/eventcollector/internal/store"
)

// tool calls allowed per source in agent mode
const callsPerSource = 10

const agentSystemPrompt = `You are an event collecting agent for a local Norwegian events aggregator covering Brønnøysund.`

// TaskPrompt lists the sources and the per-source procedure for the agent.
func TaskPrompt(list []sources.Source) string {
	var b strings.Builder
	b.WriteString(`For each source URL below, perform these steps in order:
1. Call fetch_page with the URL to retrieve cleaned page text. If a selector is listed for that source, pass it as the selector argument to focus on the relevant section.
2. Call extract_events with the page text and source URL to extract structured events.
3. Call write_events to save the events.

Rules:
- Use each URL exactly as written. Do not alter, correct or encode any characters.
- If fetch_page returns a FETCH_ERROR, skip that source and continue with the next one.
- Process each source completely before moving to the next.

Sources:
`)
	for i, s := range list {
		fmt.Fprintf(&b, "%d. %s", i+1, s.URL)
		if s.Selector != "" {
			fmt.Fprintf(&b, " (selector: %q)", s.Selector)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// runAgent lets the model drive fetch_page, extract_events and write_events.
// Outcomes stay empty; the model decides what to skip.
func (a *App) runAgent(ctx context.Context, list []sources.Source) (collect.Report, error) {
	started := time.Now()
	buf := buffer.New()
	var rep collect.Report

	reg := llmtools.NewRegistry()
	if err := llmtools.RegisterCollectorTools(reg, llmtools.CollectorDeps{
		Fetcher:   a.engine,
		Extractor: a.oracle,
		Buffer:    buf,
		Store:     a.store,
		OnPersist: func(s store.Summary) { rep.Summary = rep.Summary.Add(s) },
	}); err != nil {
		return rep, err
	}
	maxCalls := a.cfg.ToolsMaxCalls
	if maxCalls <= 0 {
		maxCalls = len(list) * callsPerSource
	}
	orch := &llmtools.Orchestrator{
		Client:       a.chat,
		Registry:     reg,
		MaxToolCalls: maxCalls,
		MaxWallClock: a.cfg.ToolsMaxWallClock,
	}
	base := openai.ChatCompletionRequest{Model: a.cfg.LLMModel, Temperature: oracle.DefaultTemperature}
	final, transcript, err := orch.Run(ctx, base, agentSystemPrompt, TaskPrompt(list))
	log.Debug().Str("stage", "agent").Int("messages", len(transcript)).Str("final", final).Msg("agent finished")

	// the model may stop before its last write_events
	if buf.Len() > 0 {
		batch := buf.Flush()
		sum, perr := a.store.Persist(batch)
		if perr != nil {
			buf.Requeue(batch)
			if err == nil {
				err = fmt.Errorf("%w: %d events: %v", collect.ErrUnpersisted, buf.Len(), perr)
			}
		} else {
			rep.Summary = rep.Summary.Add(sum)
		}
	}
	rep.Duration = time.Since(started)
	a.metrics.RunFinished(rep.Duration, err == nil, a.clock.Now())
	return rep, err
}
