package llmtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperifyio/eventcollector/internal/buffer"
	"github.com/hyperifyio/eventcollector/internal/event"
	"github.com/hyperifyio/eventcollector/internal/fetch"
	"github.com/hyperifyio/eventcollector/internal/store"
)

// Fetcher acquires page text for one URL.
type Fetcher interface {
	FetchPage(ctx context.Context, url, selector string) fetch.Result
}

// EventExtractor turns page text into events.
type EventExtractor interface {
	Extract(ctx context.Context, pageText, sourceURL string) ([]event.Event, error)
}

// Persister merges a batch into the dataset.
type Persister interface {
	Persist(events []event.Event) (store.Summary, error)
}

// CollectorDeps are the collaborators behind the collection tools. Buffer is
// the run's staging buffer, shared by extract_events and write_events.
type CollectorDeps struct {
	Fetcher   Fetcher
	Extractor EventExtractor
	Buffer    *buffer.Buffer
	Store     Persister
	// OnPersist, when set, observes every successful write.
	OnPersist func(store.Summary)
}

// RegisterCollectorTools adds fetch_page, extract_events and write_events.
func RegisterCollectorTools(r *Registry, deps CollectorDeps) error {
	if deps.Fetcher == nil || deps.Extractor == nil || deps.Buffer == nil || deps.Store == nil {
		return errors.New("collector tools: missing dependency")
	}
	defs := []ToolDefinition{
		{
			StableName:  "fetch_page",
			SemVer:      "v1.0.0",
			Description: "Fetch a web page and return its cleaned plain text. Pass selector to focus on a section.",
			JSONSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"url":{"type":"string","description":"The URL to fetch, exactly as listed"},` +
				`"selector":{"type":"string","description":"Optional CSS selector for the relevant section"}},` +
				`"required":["url"],"additionalProperties":false}`),
			Handler: fetchPageHandler(deps),
		},
		{
			StableName:  "extract_events",
			SemVer:      "v1.0.0",
			Description: "Extract structured events from cleaned page text and stage them for saving. Call write_events afterwards.",
			JSONSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"pageText":{"type":"string","description":"Cleaned plain text from the page"},` +
				`"sourceUrl":{"type":"string","description":"The URL the page was fetched from"}},` +
				`"required":["pageText","sourceUrl"],"additionalProperties":false}`),
			Handler: extractEventsHandler(deps),
		},
		{
			StableName:  "write_events",
			SemVer:      "v1.0.0",
			Description: "Save all staged events to the dataset, skipping duplicates and removing expired events.",
			JSONSchema:  json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
			Handler:     writeEventsHandler(deps),
		},
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func fetchPageHandler(deps CollectorDeps) ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args struct {
			URL      string `json:"url"`
			Selector string `json:"selector"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid args: %v", err)
		}
		if strings.TrimSpace(args.URL) == "" {
			return nil, errors.New("missing url")
		}
		res := deps.Fetcher.FetchPage(ctx, args.URL, args.Selector)
		if !res.OK() {
			return nil, errors.New(res.FailureMessage())
		}
		return json.Marshal(map[string]any{
			"url":    res.URL,
			"method": res.Method,
			"text":   res.Text,
		})
	}
}

func extractEventsHandler(deps CollectorDeps) ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args struct {
			PageText  string `json:"pageText"`
			SourceURL string `json:"sourceUrl"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid args: %v", err)
		}
		if fetch.IsFetchError(args.PageText) {
			return nil, errors.New(args.PageText)
		}
		events, err := deps.Extractor.Extract(ctx, args.PageText, args.SourceURL)
		if err != nil {
			return nil, err
		}
		deps.Buffer.Push(events...)
		return json.Marshal(map[string]any{
			"count":   len(events),
			"message": fmt.Sprintf("Extracted %d event(s) from %s. Call write_events to save them.", len(events), args.SourceURL),
		})
	}
}

func writeEventsHandler(deps CollectorDeps) ToolHandler {
	return func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		batch := deps.Buffer.Flush()
		sum, err := deps.Store.Persist(batch)
		if err != nil {
			deps.Buffer.Requeue(batch)
			return nil, fmt.Errorf("write events: %w", err)
		}
		if deps.OnPersist != nil {
			deps.OnPersist(sum)
		}
		return json.Marshal(map[string]any{
			"added":             sum.Added,
			"skippedDuplicates": sum.SkippedDuplicates,
			"removedExpired":    sum.RemovedExpired,
			"message":           sum.String(),
		})
	}
}
