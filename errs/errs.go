// Package errs defines the error taxonomy shared by every component of the
// scrape-to-answer pipeline: a small set of tagged result types rather than
// ad-hoc error strings, so the orchestrator and query pipeline can decide
// recovery by inspecting a kind instead of parsing messages.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// FetchErrorKind distinguishes failures a caller might retry from ones it
// should not.
type FetchErrorKind string

const (
	FetchTransient FetchErrorKind = "transient"
	FetchPermanent FetchErrorKind = "permanent"
)

// FetchError wraps a per-URL fetch failure with a transient/permanent
// classification. It is never fatal to a session; the orchestrator counts
// it and continues.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError classifies err by status code and message, mirroring the
// heuristics a reverse proxy uses to decide whether to retry.
func NewFetchError(url string, statusCode int, err error) *FetchError {
	return &FetchError{Kind: classifyFetch(statusCode, err), URL: url, Err: err}
}

func classifyFetch(statusCode int, err error) FetchErrorKind {
	switch {
	case statusCode == 429:
		return FetchTransient
	case statusCode >= 500 && statusCode < 600:
		return FetchTransient
	case statusCode == 401, statusCode == 403, statusCode == 404, statusCode == 410:
		return FetchPermanent
	}
	if err != nil && isNetworkError(err.Error()) {
		return FetchTransient
	}
	return FetchPermanent
}

func isNetworkError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"timeout", "deadline exceeded", "connection refused",
		"connection reset", "no such host", "dns", "eof", "tls handshake"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// InvalidUrl is returned for malformed input or SSRF-unsafe targets.
type InvalidUrl struct {
	URL    string
	Reason string
}

func (e *InvalidUrl) Error() string {
	return fmt.Sprintf("invalid url %q: %s", e.URL, e.Reason)
}

// NormalizeError wraps a total HTML-parse failure. Best-effort extraction
// failures (short or empty content) are not represented here — they surface
// as an ordinary page failure, not an error value.
type NormalizeError struct {
	URL string
	Err error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %s: %v", e.URL, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// ErrVectorStoreUnavailable is fatal to any operation touching the store.
var ErrVectorStoreUnavailable = errors.New("vector store unavailable")

// ErrLLMUnavailable surfaces an LLM capability failure. Stage 1 (rewrite)
// degrades instead of propagating this; Stage 3 (synthesize) propagates it.
var ErrLLMUnavailable = errors.New("llm unavailable")

// ErrNotFound is returned for session lookup misses.
var ErrNotFound = errors.New("not found")

// ErrCancelled marks a session terminated by cooperative cancellation.
var ErrCancelled = errors.New("cancelled")
