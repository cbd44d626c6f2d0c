// Package errorkind defines the closed error taxonomy shared by every
// adapter, the circuit breaker, and the health monitor. A single
// classification function (IsStructural) is the one place that decides
// which error kinds count as schema drift versus ordinary operational
// noise, so the breaker and the monitor can never disagree about it.
package errorkind

import "fmt"

// Kind is a closed set of adapter error classifications.
type Kind string

const (
	// Transient errors are retryable within the router's fallback walk but
	// never trip the circuit breaker on their own (429, 503, connection
	// reset, idempotent timeout).
	Transient Kind = "transient"

	// Auth errors are terminal for the offending provider: no retry against
	// the same provider, though the router may still fall back to a
	// different one.
	Auth Kind = "auth"

	// Validation errors indicate a caller-fault payload (400-class); no
	// retry against any provider makes sense since the request itself is
	// malformed.
	Validation Kind = "validation"

	// ContentFilter indicates the provider refused on policy grounds.
	ContentFilter Kind = "content_filter"

	// SchemaMismatch: a required field is absent or the shape is wrong.
	SchemaMismatch Kind = "schema_mismatch"

	// UnknownField: an unrecognized field appeared where it is
	// load-bearing for this adapter's mapping.
	UnknownField Kind = "unknown_field"

	// DeprecatedField: a documented-removed field the adapter still
	// expects to see.
	DeprecatedField Kind = "deprecated_field"

	// ToolSchemaDrift: the provider's tool/function-call wire format
	// changed shape.
	ToolSchemaDrift Kind = "tool_schema_drift"

	// StreamFormatDrift: a stream event's type or envelope changed shape,
	// or the stream ended without the mandatory terminal finish event.
	StreamFormatDrift Kind = "stream_format_drift"

	// Unknown is the catch-all for anything the adapter cannot classify;
	// it is logged verbatim for later reclassification and never counted
	// as structural.
	Unknown Kind = "unknown"
)

// structural is the set of kinds that indicate the adapter's view of the
// provider's wire format has drifted — these are the only kinds that
// count toward circuit-breaker failure thresholds and health-monitor
// heal dispatch.
var structural = map[Kind]bool{
	SchemaMismatch:    true,
	UnknownField:      true,
	DeprecatedField:   true,
	ToolSchemaDrift:   true,
	StreamFormatDrift: true,
}

// IsStructural reports whether k indicates provider-wire-format drift
// rather than ordinary operational failure (rate limiting, auth, caller
// error, policy refusal).
func IsStructural(k Kind) bool {
	return structural[k]
}

// NoRetrySameProvider reports whether the router must not retry the same
// provider for this call, though a different provider may still be tried.
func NoRetrySameProvider(k Kind) bool {
	switch k {
	case Auth, Validation, ContentFilter:
		return true
	default:
		return false
	}
}

// TerminalForRequest reports whether k ends the request entirely: the
// fault lies with the request itself (validation) or with its content
// (content_filter), so rerouting to a different provider cannot help.
// Auth is deliberately excluded — a bad key is specific to one provider,
// and the router may still fall back to another.
func TerminalForRequest(k Kind) bool {
	switch k {
	case Validation, ContentFilter:
		return true
	default:
		return false
	}
}

// AdapterError is the structured error every Adapter operation returns on
// failure. It carries enough context for the router to classify, for the
// health monitor to bucket, and for the caller-facing diagnostic payload
// spec'd for all_providers_failed responses.
type AdapterError struct {
	Kind     Kind
	Provider string
	Message  string
	Details  string
	Cause    error
}

func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Provider, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Provider, e.Kind, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

// New builds an AdapterError for the given kind and provider.
func New(kind Kind, provider string, message string) *AdapterError {
	return &AdapterError{Provider: provider, Kind: kind, Message: message}
}

// WithCause attaches the underlying cause.
func (e *AdapterError) WithCause(cause error) *AdapterError {
	e.Cause = cause
	return e
}

// WithDetails attaches a truncated diagnostic payload (e.g. raw body).
func (e *AdapterError) WithDetails(details string) *AdapterError {
	e.Details = details
	return e
}

// AsAdapterError extracts an *AdapterError from err, if any.
func AsAdapterError(err error) (*AdapterError, bool) {
	ae, ok := err.(*AdapterError)
	return ae, ok
}
