package linkerr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind identifies a class of link-generation failure. Workers report
// target-related kinds to the circuit breaker; local kinds never trip it.
type Kind string

const (
	KindConfiguration  Kind = "ConfigurationError"
	KindTimeout        Kind = "Timeout"
	KindHTTP           Kind = "HTTPError"
	KindCaptcha        Kind = "CaptchaError"
	KindThrottling     Kind = "ThrottlingError"
	KindNetwork        Kind = "NetworkError"
	KindParsing        Kind = "ParsingError"
	KindButtonNotFound Kind = "ButtonNotFound"
	KindCanceled       Kind = "Canceled"
	KindBreakerOpen    Kind = "CircuitBreakerOpen"
	KindBreakerProbe   Kind = "CircuitBreakerHalfOpen"
)

// Error is the single error type crossing the engine/worker boundary.
// It carries enough context for diagnosis without leaking full target
// payloads into logs.
type Error struct {
	Kind       Kind
	Message    string
	JobID      string
	URL        string
	StatusCode int
	DebugPath  string
	cause      error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// NewHTTP builds an HTTP error, mapping 429 to throttling.
func NewHTTP(status int, message string) *Error {
	kind := KindHTTP
	if status == 429 {
		kind = KindThrottling
	}
	return &Error{Kind: kind, Message: message, StatusCode: status}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.JobID != "" {
		msg += fmt.Sprintf(" [job: %s]", e.JobID)
	}
	if e.URL != "" {
		msg += fmt.Sprintf(" [url: %s]", truncate(e.URL, 100))
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [status: %d]", e.StatusCode)
	}
	if e.DebugPath != "" {
		msg += fmt.Sprintf(" [debug: %s]", e.DebugPath)
	}
	if e.cause != nil {
		msg += fmt.Sprintf(": %s", truncate(e.cause.Error(), 200))
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithJob returns a copy annotated with job context.
func (e *Error) WithJob(jobID, url string) *Error {
	clone := *e
	clone.JobID = jobID
	clone.URL = url
	return &clone
}

// WithDebugPath returns a copy pointing at persisted debug artifacts.
func (e *Error) WithDebugPath(path string) *Error {
	clone := *e
	clone.DebugPath = path
	return &clone
}

// TripsBreaker reports whether failures of this kind indicate target-side
// degradation. Local extraction and input errors must never open the
// breaker; breaker rejections are not engine failures at all.
func TripsBreaker(kind Kind) bool {
	switch kind {
	case KindTimeout, KindHTTP, KindCaptcha, KindThrottling, KindNetwork:
		return true
	default:
		return false
	}
}

// Classify maps an arbitrary error to a Kind with a strict precedence
// order: a typed kind wins, then deadline expiry, then cancellation, then
// the transport kinds. An error that is both a timeout and a parsing
// failure classifies as a timeout, so the breaker sees it.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	// Cancellation comes from our own shutdown or caller, never from the
	// target; it must not count against the breaker.
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	// Unknown error shapes count as network failures: an unrecognized
	// fault during an external operation is treated as target-related
	// rather than silently ignored by the breaker.
	return KindNetwork
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
