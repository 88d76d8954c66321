// Package sources holds the list of pages the collector visits.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNoSources = errors.New("no sources configured")

// Source is one page to collect from. Selector optionally scopes extraction
// to a section of the page.
type Source struct {
	URL      string `yaml:"url" json:"url"`
	Name     string `yaml:"name" json:"name"`
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
}

// Defaults returns the built-in Brønnøysund source list.
func Defaults() []Source {
	return []Source{
		{URL: "https://www.bronnoy.kommune.no/", Name: "Brønnøy kommune"},
		{URL: "https://www.cafekred.no/arrangementer", Name: "Cafe Kred", Selector: "main"},
		{URL: "https://bronnoybibliotek.no/arrangementer#/", Name: "Brønnøy bibliotek"},
		{URL: "https://www.havnesenteret.no/dette-skjer", Name: "Havnesenteret", Selector: "main"},
		{URL: "https://www.bronnoy.kirken.no/Kalender", Name: "Brønnøy kirke"},
	}
}

// Adhoc builds a single-source list for a URL given on the command line.
// The URL doubles as the name.
func Adhoc(rawURL, selector string) []Source {
	rawURL = strings.TrimSpace(rawURL)
	return []Source{{URL: rawURL, Name: rawURL, Selector: strings.TrimSpace(selector)}}
}

type file struct {
	Sources []Source `yaml:"sources"`
}

// Load reads a YAML file holding either a top-level list of sources or a
// mapping with a "sources" key.
func Load(path string) ([]Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	var list []Source
	if err := yaml.Unmarshal(b, &list); err != nil {
		var f file
		if err2 := yaml.Unmarshal(b, &f); err2 != nil {
			return nil, fmt.Errorf("parse sources %s: %w", path, err2)
		}
		list = f.Sources
	}
	if err := Validate(list); err != nil {
		return nil, fmt.Errorf("sources %s: %w", path, err)
	}
	return list, nil
}

// Validate requires at least one source, absolute http(s) URLs and no
// duplicate URLs. Missing names are filled from the URL host.
func Validate(list []Source) error {
	if len(list) == 0 {
		return ErrNoSources
	}
	seen := make(map[string]bool, len(list))
	for i := range list {
		s := &list[i]
		s.URL = strings.TrimSpace(s.URL)
		u, err := url.Parse(s.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("source %d: invalid url %q", i+1, s.URL)
		}
		if seen[s.URL] {
			return fmt.Errorf("source %d: duplicate url %q", i+1, s.URL)
		}
		seen[s.URL] = true
		if strings.TrimSpace(s.Name) == "" {
			s.Name = u.Host
		}
	}
	return nil
}
