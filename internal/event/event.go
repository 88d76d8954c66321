// Package event defines the collected event record, the persisted dataset
// shape, and the rules that decide identity (dedup key) and liveness (expiry).
package event

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Category is one of a fixed, closed set of domain categories.
type Category string

const (
	CategoryCulture   Category = "kultur"
	CategorySport     Category = "sport"
	CategoryBusiness  Category = "næringsliv"
	CategoryMunicipal Category = "kommunalt"
	CategoryOther     Category = "annet"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryCulture, CategorySport, CategoryBusiness, CategoryMunicipal, CategoryOther}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Event is a single collected occurrence.
type Event struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	StartDate   string   `json:"startDate"`
	EndDate     string   `json:"endDate,omitempty"`
	Location    string   `json:"location,omitempty"`
	URL         string   `json:"url,omitempty"`
	Source      string   `json:"source"`
	CollectedAt string   `json:"collectedAt"`
}

// EventsData is the persisted dataset consumed by the front end.
type EventsData struct {
	UpdatedAt string  `json:"updatedAt"`
	Events    []Event `json:"events"`
}

// TimestampLayout matches the millisecond UTC form used for updatedAt and
// collectedAt, e.g. 2026-02-28T12:00:00.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t in TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// DedupKey identifies an occurrence across runs. Fields are compared by exact
// string equality, so whitespace or punctuation variants are distinct keys.
type DedupKey struct {
	Title     string
	StartDate string
	Source    string
}

// Key returns the deduplication key of e.
func (e Event) Key() DedupKey {
	return DedupKey{Title: e.Title, StartDate: e.StartDate, Source: e.Source}
}

func (k DedupKey) String() string {
	return k.Title + "|" + k.StartDate + "|" + k.Source
}

var (
	ErrMissingTitle     = errors.New("event: missing title")
	ErrMissingStartDate = errors.New("event: missing startDate")
	ErrMissingSource    = errors.New("event: missing source")
)

// Validate checks the fields that the dedup key and ordering depend on.
func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.Title) == "":
		return ErrMissingTitle
	case strings.TrimSpace(e.StartDate) == "":
		return ErrMissingStartDate
	case strings.TrimSpace(e.Source) == "":
		return ErrMissingSource
	}
	if _, err := ParseStartDate(e.StartDate); err != nil {
		return fmt.Errorf("event %q: %w", e.Title, err)
	}
	return nil
}

// Normalize fills defaults on a candidate produced by extraction: trimmed
// strings, a valid category, a source domain derived from sourceURL, a capture
// timestamp and a slug id.
func Normalize(e Event, sourceURL string, now time.Time) Event {
	e.ID = strings.TrimSpace(e.ID)
	e.Title = strings.TrimSpace(e.Title)
	e.Description = strings.TrimSpace(e.Description)
	e.StartDate = strings.TrimSpace(e.StartDate)
	e.EndDate = strings.TrimSpace(e.EndDate)
	e.Location = strings.TrimSpace(e.Location)
	e.URL = strings.TrimSpace(e.URL)
	e.Source = strings.TrimSpace(e.Source)
	e.Category = Category(strings.ToLower(strings.TrimSpace(string(e.Category))))
	if !e.Category.Valid() {
		e.Category = CategoryOther
	}
	if e.Source == "" {
		e.Source = SourceDomain(sourceURL)
	}
	if e.CollectedAt == "" {
		e.CollectedAt = Timestamp(now)
	}
	if e.ID == "" {
		e.ID = Slug(e.Source, e.Title, e.StartDate)
	}
	return e
}

// SourceDomain returns the host of rawURL without a leading "www.". Inputs
// that do not parse as URLs are returned trimmed.
func SourceDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
