package fetch

import "strings"

// Method tells which path produced a page's text.
type Method string

const (
	MethodStatic  Method = "static"
	MethodBrowser Method = "browser"
)

// ErrorMarker prefixes the textual form of a failed fetch so string-based
// consumers, such as a model reading tool output, can recognise it.
const ErrorMarker = "FETCH_ERROR"

// Result is the outcome of FetchPage: page text on success, or the cause of
// failure. A failure means "skip this source and continue with the next".
type Result struct {
	URL      string
	Text     string
	Method   Method
	Attempts int
	Err      error
}

// OK reports whether the fetch produced text (possibly empty when a selector
// matched nothing on the rendered page).
func (r Result) OK() bool { return r.Err == nil }

// FailureMessage renders the failure for string-based consumers. It is empty
// for successful results.
func (r Result) FailureMessage() string {
	if r.Err == nil {
		return ""
	}
	return ErrorMarker + ": " + r.Err.Error() + ". Skip this source and move on to the next one."
}

// IsFetchError reports whether s is the textual form of a failed fetch.
func IsFetchError(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), ErrorMarker)
}
