package openapitools

import (
	"errors"
	"fmt"
)

// Fault kinds returned by the loader, converter, executor and registry.
// Match them with errors.Is; the concrete error usually wraps one of these
// with context about the source, tool or operation involved.
var (
	// ErrInvalidSpec means the document could not be fetched, decoded or processed.
	ErrInvalidSpec = errors.New("invalid openapi spec")

	// ErrSpecNotInitialized means no document is cached for the requested base URL.
	ErrSpecNotInitialized = errors.New("openapi spec not initialized for base url")

	// ErrOperationNotFound means no operation in the cached document derives the tool name.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrExternalAPI means the downstream HTTP call failed. See ExternalAPIError.
	ErrExternalAPI = errors.New("external api call failed")

	// ErrCircularRef is wrapped inside ErrInvalidSpec when a $ref chain loops.
	ErrCircularRef = errors.New("circular $ref")

	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolExists       = errors.New("tool already registered")
	ErrToolRegistration = errors.New("tool registration failed")
	ErrInvalidConfig    = errors.New("invalid config")
)

// ExternalAPIError describes a failed downstream call. StatusCode is zero for
// transport failures, in which case Err holds the cause.
type ExternalAPIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *ExternalAPIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, truncate(e.Body, 512))
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, ErrExternalAPI)
	}
}

func (e *ExternalAPIError) Unwrap() error { return e.Err }

// Is reports every ExternalAPIError as ErrExternalAPI.
func (e *ExternalAPIError) Is(target error) bool {
	return target == ErrExternalAPI
}

func invalidSpec(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
