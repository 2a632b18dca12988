// internal/agent/errors.go
package agent

import "errors"

// ErrorCode is a string type used for structured error reporting in trace events.
type ErrorCode string

const (
	ErrCodeVisionFailure     ErrorCode = "VISION_FAILURE"
	ErrCodeBrowserFailure    ErrorCode = "BROWSER_FAILURE"
	ErrCodeExtractionFailure ErrorCode = "EXTRACTION_FAILURE"
	ErrCodeTraceFailure      ErrorCode = "TRACE_FAILURE"
)

var (
	// ErrIllegalTransition is returned when a node routes to a node the transition
	// table does not allow. It always indicates a bug in the navigator.
	ErrIllegalTransition = errors.New("illegal node transition")
	// ErrNoScreenshot is returned by helpers that need an observation before one exists.
	ErrNoScreenshot = errors.New("no screenshot observed yet")
)

// errorDetails is the payload of an error trace event.
type errorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
