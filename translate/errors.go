package translate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/minios-linux/vitrans/gemini"
)

// Failure kinds. HTTP-derived failures arrive as *APIError values that
// unwrap to one of these.
var (
	// ErrNoCredential means no API key is configured. Nothing was sent.
	ErrNoCredential = errors.New("no API key configured")
	// ErrAuthFailure means the key was rejected. Not retried.
	ErrAuthFailure = errors.New("API key rejected")
	// ErrTransient covers rate limiting, server faults and transport
	// errors. Retried with backoff.
	ErrTransient = errors.New("rate limited or server fault")
	// ErrUnsupportedRequestShape means structured output was rejected. It
	// triggers a downgrade to freeform mode and never leaves the
	// Translator.
	ErrUnsupportedRequestShape = errors.New("structured output not supported")
	// ErrMalformedResponse means every attempt succeeded at the HTTP level
	// but no translations could be recovered.
	ErrMalformedResponse = errors.New("no translations could be recovered from the response")
	// ErrUnexpectedStatus is any other non-2xx status. Not retried.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

// bodyExcerptLen bounds the response excerpt kept in an APIError.
const bodyExcerptLen = 280

// APIError is a failed generateContent call.
type APIError struct {
	Kind    error
	Status  int
	Message string
	// Body is a truncated excerpt of the response body.
	Body string
}

func (e *APIError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = e.Body
	}
	if detail == "" {
		return fmt.Sprintf("%v (HTTP %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%v (HTTP %d): %s", e.Kind, e.Status, detail)
}

func (e *APIError) Unwrap() error { return e.Kind }

// BatchError reports which batch of a TranslateItems call failed. Pairs from
// earlier batches are returned alongside it.
type BatchError struct {
	// Index is the zero-based batch number.
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.Index+1, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

var (
	schemaMarkers     = []string{"responsemimetype", "responseschema", "schema", "unknown field"}
	credentialMarkers = []string{"api key", "invalid", "expired"}
)

// classify maps a non-2xx response to an APIError. Schema rejection is only
// recognized for structured requests, and is checked before the credential
// markers because its messages also say "invalid".
func classify(resp *gemini.Response, mode gemini.Mode) *APIError {
	msg := strings.ToLower(resp.Message)
	e := &APIError{
		Status:  resp.Status,
		Message: resp.Message,
		Body:    truncate(string(resp.Body), bodyExcerptLen),
	}

	switch {
	case mode == gemini.ModeStructured && resp.Status == 400 &&
		containsAny(fallbackText(msg, resp.Body), schemaMarkers):
		e.Kind = ErrUnsupportedRequestShape
	case resp.Status == 400 && containsAny(msg, credentialMarkers):
		e.Kind = ErrAuthFailure
	case resp.Status == 401 || resp.Status == 403:
		e.Kind = ErrAuthFailure
	case resp.Status == 429 || resp.Status >= 500:
		e.Kind = ErrTransient
	default:
		e.Kind = ErrUnexpectedStatus
	}
	return e
}

func fallbackText(msg string, body []byte) string {
	if msg != "" {
		return msg
	}
	return strings.ToLower(string(body))
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// truncate truncates a string to at most maxLen bytes without splitting a
// rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}

// Code returns a short machine-readable code for err, as reported to
// extension clients.
func Code(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredential):
		return "NO_API_KEY"
	case errors.Is(err, ErrMalformedResponse):
		return "BAD_JSON_RESPONSE"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELED"
	case errors.As(err, &apiErr):
		if errors.Is(apiErr, ErrAuthFailure) {
			if apiErr.Status == 400 {
				return "API_KEY_INVALID"
			}
			return "AUTH_" + strconv.Itoa(apiErr.Status)
		}
		return "API_HTTP_" + strconv.Itoa(apiErr.Status)
	case errors.Is(err, ErrTransient):
		return "NETWORK"
	}
	return "UNKNOWN"
}
