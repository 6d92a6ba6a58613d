package models

import "time"

// ErrorKind enumerates the dispatcher's error taxonomy. Every layer returns
// an InvocationResult carrying one of these instead of a language-level
// exception crossing a module boundary.
type ErrorKind string

const (
	ErrorToolNotFound       ErrorKind = "ToolNotFound"
	ErrorActionNotSupported ErrorKind = "ActionNotSupported"
	ErrorInvalidArgument    ErrorKind = "InvalidArgument"
	ErrorProviderUnavailable ErrorKind = "ProviderUnavailable"
	ErrorTimeout            ErrorKind = "Timeout"
	ErrorProviderError      ErrorKind = "ProviderError"
	ErrorInternalError      ErrorKind = "InternalError"
	ErrorRateLimited        ErrorKind = "RateLimited"
	ErrorDisabled           ErrorKind = "Disabled"
)

// Invocation is the request form a caller hands to the dispatcher.
type Invocation struct {
	RegistryID    string         `json:"registry_id"`
	Action        string         `json:"action"`
	Parameters    map[string]any `json:"parameters"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// InvocationResult is the uniform reply shape for every dispatch path.
type InvocationResult struct {
	Success      bool           `json:"success"`
	Data         any            `json:"data,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ElapsedNS    int64          `json:"elapsed_ns,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// Ok builds a successful result, stamping elapsed time from since.
func Ok(data any, since time.Time) InvocationResult {
	return InvocationResult{Success: true, Data: data, ElapsedNS: time.Since(since).Nanoseconds()}
}

// Fail builds a failed result of the given kind.
func Fail(kind ErrorKind, message string, since time.Time) InvocationResult {
	return InvocationResult{
		Success:      false,
		ErrorKind:    kind,
		ErrorMessage: message,
		ElapsedNS:    time.Since(since).Nanoseconds(),
	}
}
