// Package collect runs the fixed pipeline over a source list: fetch, extract,
// stage, persist. A failing source is skipped; the run continues.
package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/eventcollector/internal/buffer"
	"github.com/hyperifyio/eventcollector/internal/event"
	"github.com/hyperifyio/eventcollector/internal/fetch"
	"github.com/hyperifyio/eventcollector/internal/metrics"
	"github.com/hyperifyio/eventcollector/internal/sources"
	"github.com/hyperifyio/eventcollector/internal/store"
)

// Fetcher acquires page text for one URL.
type Fetcher interface {
	FetchPage(ctx context.Context, url, selector string) fetch.Result
}

// Oracle turns page text into events.
type Oracle interface {
	Extract(ctx context.Context, pageText, sourceURL string) ([]event.Event, error)
}

// Persister merges a batch into the dataset.
type Persister interface {
	Persist(events []event.Event) (store.Summary, error)
}

// Status is the outcome of one source.
type Status string

const (
	StatusOK            Status = "ok"
	StatusFetchFailed   Status = "fetch_failed"
	StatusExtractFailed Status = "extract_failed"
	StatusPersistFailed Status = "persist_failed"
)

// ErrUnpersisted is returned when staged events could not be written by the
// end of the run.
var ErrUnpersisted = errors.New("events left unpersisted")

// Outcome records what happened to one source.
type Outcome struct {
	Source   sources.Source
	Status   Status
	Method   fetch.Method
	Attempts int
	Events   int
	Err      error
}

// Report summarises a run.
type Report struct {
	Outcomes []Outcome
	Summary  store.Summary
	Duration time.Duration
}

// Failed counts sources that did not complete.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status != StatusOK {
			n++
		}
	}
	return n
}

// AllFailed reports whether no source completed.
func (r Report) AllFailed() bool {
	return len(r.Outcomes) > 0 && r.Failed() == len(r.Outcomes)
}

// Runner owns one run's collaborators. Buffer is created per run when nil.
type Runner struct {
	Fetcher Fetcher
	Oracle  Oracle
	Store   Persister
	Buffer  *buffer.Buffer
	Metrics *metrics.Collector
}

// Run processes list in order. Every source's events are persisted before
// the next source starts; a failed write re-queues the batch so the next
// persist retries it. The returned error is non-nil only when events remain
// staged at the end.
func (r *Runner) Run(ctx context.Context, list []sources.Source) (Report, error) {
	if r.Fetcher == nil || r.Oracle == nil || r.Store == nil {
		return Report{}, errors.New("collect: runner not configured")
	}
	if len(list) == 0 {
		return Report{}, sources.ErrNoSources
	}
	if r.Buffer == nil {
		r.Buffer = buffer.New()
	}
	started := time.Now()
	var rep Report
	for _, src := range list {
		out := r.runSource(ctx, src, &rep)
		rep.Outcomes = append(rep.Outcomes, out)
		ev := log.Info()
		if out.Err != nil {
			ev = log.Warn().Err(out.Err)
		}
		ev.Str("stage", "collect").
			Str("source", src.Name).
			Str("url", src.URL).
			Str("status", string(out.Status)).
			Int("events", out.Events).
			Msg("source done")
	}

	var err error
	if r.Buffer.Len() > 0 {
		if perr := r.persist(&rep); perr != nil {
			err = fmt.Errorf("%w: %d events: %v", ErrUnpersisted, r.Buffer.Len(), perr)
		}
	}
	rep.Duration = time.Since(started)
	r.Metrics.RunFinished(rep.Duration, err == nil && !rep.AllFailed(), time.Now())
	return rep, err
}

func (r *Runner) runSource(ctx context.Context, src sources.Source, rep *Report) Outcome {
	out := Outcome{Source: src}
	res := r.Fetcher.FetchPage(ctx, src.URL, src.Selector)
	out.Method, out.Attempts = res.Method, res.Attempts
	if !res.OK() {
		out.Status, out.Err = StatusFetchFailed, res.Err
		r.Metrics.SourceSkipped("fetch")
		return out
	}
	events, err := r.Oracle.Extract(ctx, res.Text, src.URL)
	if err != nil {
		out.Status, out.Err = StatusExtractFailed, err
		r.Metrics.SourceSkipped("extract")
		return out
	}
	out.Events = len(events)
	r.Buffer.Push(events...)
	if err := r.persist(rep); err != nil {
		out.Status, out.Err = StatusPersistFailed, err
		r.Metrics.SourceSkipped("persist")
		return out
	}
	out.Status = StatusOK
	return out
}

// persist flushes the buffer into the store and re-queues on failure.
func (r *Runner) persist(rep *Report) error {
	batch := r.Buffer.Flush()
	sum, err := r.Store.Persist(batch)
	if err != nil {
		r.Buffer.Requeue(batch)
		return err
	}
	rep.Summary = rep.Summary.Add(sum)
	return nil
}
