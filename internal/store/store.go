// Package store merges extracted events into the JSON dataset read by the
// front end.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/eventcollector/internal/atomicfile"
	"github.com/hyperifyio/eventcollector/internal/clock"
	"github.com/hyperifyio/eventcollector/internal/event"
	"github.com/hyperifyio/eventcollector/internal/metrics"
)

// DefaultPath is where the front end expects the dataset.
const DefaultPath = "web/public/data/events.json"

// Summary counts what one Persist call did.
type Summary struct {
	Added             int `json:"added"`
	SkippedDuplicates int `json:"skippedDuplicates"`
	RemovedExpired    int `json:"removedExpired"`
	// Total is the number of events in the written dataset.
	Total int `json:"total"`
}

func (s Summary) String() string {
	return fmt.Sprintf("Added %d, skipped %d duplicates, removed %d expired.", s.Added, s.SkippedDuplicates, s.RemovedExpired)
}

// Add accumulates o into s. Total is taken from o, the later write.
func (s Summary) Add(o Summary) Summary {
	return Summary{
		Added:             s.Added + o.Added,
		SkippedDuplicates: s.SkippedDuplicates + o.SkippedDuplicates,
		RemovedExpired:    s.RemovedExpired + o.RemovedExpired,
		Total:             o.Total,
	}
}

// Store owns the dataset file. It assumes a single writer: concurrent
// processes are not locked against and the last rename wins.
type Store struct {
	Path         string
	Clock        clock.Clock
	ExpiryWindow time.Duration
	Writer       atomicfile.Writer
	Metrics      *metrics.Collector
}

// New returns a Store for path with the system clock and default expiry.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{Path: path, ExpiryWindow: event.DefaultExpiryWindow}
}

// Load reads the dataset. A missing, unreadable or corrupt file yields an
// empty dataset stamped with the current time; the failure is logged only.
func (s *Store) Load() event.EventsData {
	now := clock.OrSystem(s.Clock).Now()
	empty := event.EventsData{UpdatedAt: event.Timestamp(now), Events: []event.Event{}}

	b, err := os.ReadFile(s.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("stage", "store").Str("path", s.Path).Msg("dataset unreadable, starting empty")
		}
		return empty
	}
	var data event.EventsData
	if err := json.Unmarshal(b, &data); err != nil {
		log.Warn().Err(err).Str("stage", "store").Str("path", s.Path).Msg("dataset corrupt, starting empty")
		return empty
	}
	if data.Events == nil {
		data.Events = []event.Event{}
	}
	return data
}

// Persist merges newEvents into the dataset, drops expired events, sorts by
// start date and atomically rewrites the file. Duplicates by dedup key are
// skipped, including repeats within newEvents. Only a write failure is
// returned; the file is then left as it was.
func (s *Store) Persist(newEvents []event.Event) (Summary, error) {
	now := clock.OrSystem(s.Clock).Now()
	data := s.Load()

	seen := make(map[event.DedupKey]struct{}, len(data.Events)+len(newEvents))
	for _, e := range data.Events {
		seen[e.Key()] = struct{}{}
	}
	var sum Summary
	for _, e := range newEvents {
		k := e.Key()
		if _, dup := seen[k]; dup {
			sum.SkippedDuplicates++
			continue
		}
		seen[k] = struct{}{}
		data.Events = append(data.Events, e)
		sum.Added++
	}

	kept := data.Events[:0]
	for _, e := range data.Events {
		if event.IsExpired(e, now, s.ExpiryWindow) {
			sum.RemovedExpired++
			continue
		}
		kept = append(kept, e)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].StartDate < kept[j].StartDate })
	data.Events = kept
	data.UpdatedAt = event.Timestamp(now)
	sum.Total = len(kept)

	b, err := encode(data)
	if err != nil {
		return Summary{}, err
	}
	if err := s.Writer.WriteFile(s.Path, b); err != nil {
		return Summary{}, fmt.Errorf("write dataset: %w", err)
	}
	s.Metrics.Persisted(sum.Added, sum.SkippedDuplicates, sum.RemovedExpired)
	log.Info().
		Str("stage", "store").
		Str("path", s.Path).
		Int("added", sum.Added).
		Int("skipped", sum.SkippedDuplicates).
		Int("expired", sum.RemovedExpired).
		Int("total", sum.Total).
		Msg("dataset written")
	return sum, nil
}

// encode writes two-space indented JSON without HTML escaping, so titles
// like "Bok & kaffe" stay readable in the file.
func encode(data event.EventsData) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return buf.Bytes(), nil
}
