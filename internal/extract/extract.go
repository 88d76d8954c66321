package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// DefaultLimit is the maximum number of characters handed to extraction.
const DefaultLimit = 8000

// boilerplate is removed from the whole document before any text is read, so
// it never leaks into output even when a selector scopes inside it.
const boilerplate = "script, style, noscript, nav, header, footer, aside"

// Text converts markup into normalized plain text. With a selector, only the
// text of matching elements is kept; a selector that matches nothing yields
// an empty string, which callers treat as "no usable content". Without a
// selector the document body is used. Malformed markup is parsed leniently.
func Text(input string, selector string) string {
	root, err := html.Parse(strings.NewReader(input))
	if err != nil || root == nil {
		return ""
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find(boilerplate).Remove()

	var raw string
	if sel := strings.TrimSpace(selector); sel != "" {
		matched := doc.Find(sel)
		if matched.Length() == 0 {
			return ""
		}
		raw = matched.Text()
	} else {
		raw = doc.Find("body").Text()
	}
	return normalizeWhitespace(raw)
}

// normalizeWhitespace collapses every whitespace run to a single space,
// trims the ends and composes the result to NFC.
func normalizeWhitespace(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// Truncate caps text at limit characters and appends a marker naming the
// limit. Text of exactly limit characters is returned unchanged. A limit of
// zero or less means DefaultLimit.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + TruncationMarker(limit)
}

// TruncationMarker returns the suffix Truncate appends for limit.
func TruncationMarker(limit int) string {
	return fmt.Sprintf("\n\n[TEXT TRUNCATED AT %d CHARACTERS]", limit)
}
