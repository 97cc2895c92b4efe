// Package vitalerr defines the measurement error taxonomy and the classifier
// that turns any returned error into severity, category and recovery
// guidance for the user-facing layer.
package vitalerr

import (
	"errors"
	"fmt"
)

// Domain is the error domain reported in structured error details.
const Domain = "vitals.report"

// Kind groups error codes by how a caller should react to them.
type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindDataInsufficiency      Kind = "data_insufficiency"       // too few samples, frames or peaks
	KindFrequencyRangeEmpty    Kind = "frequency_range_empty"    // no in-band spectral content
	KindInvalidConfiguration   Kind = "invalid_configuration"    // bad sample rate, unknown protocol
	KindInvalidStateTransition Kind = "invalid_state_transition" // protocol operation out of sequence
	KindDependencyUnavailable  Kind = "dependency_unavailable"   // decomposition backend missing
	KindDetectionAbsence       Kind = "detection_absence"        // no region found
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Data insufficiency
	CodeSignalTooShort      Code = "SIGNAL_TOO_SHORT"
	CodeInsufficientSamples Code = "INSUFFICIENT_SAMPLES"

	// Spectral
	CodeNoFrequencyInRange Code = "NO_FREQUENCY_IN_RANGE"

	// Configuration
	CodeInvalidSampleRate Code = "INVALID_SAMPLE_RATE"
	CodeInvalidTraceShape Code = "INVALID_TRACE_SHAPE"
	CodeUnknownMethod     Code = "UNKNOWN_SEPARATION_METHOD"
	CodeUnknownProtocol   Code = "UNKNOWN_PROTOCOL"
	CodeInvalidConfig     Code = "INVALID_CONFIGURATION"

	// Protocol state
	CodeNoActiveProtocol       Code = "NO_ACTIVE_PROTOCOL"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"

	// Capabilities
	CodeMissingDependency Code = "MISSING_DEPENDENCY"

	// Detection
	CodeNoRegionDetected Code = "NO_REGION_DETECTED"
)

// Kind reports the taxonomy kind of the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeSignalTooShort, CodeInsufficientSamples:
		return KindDataInsufficiency
	case CodeNoFrequencyInRange:
		return KindFrequencyRangeEmpty
	case CodeInvalidSampleRate, CodeInvalidTraceShape, CodeUnknownMethod,
		CodeUnknownProtocol, CodeInvalidConfig:
		return KindInvalidConfiguration
	case CodeNoActiveProtocol, CodeInvalidStateTransition:
		return KindInvalidStateTransition
	case CodeMissingDependency:
		return KindDependencyUnavailable
	case CodeNoRegionDetected:
		return KindDetectionAbsence
	default:
		return KindUnknown
	}
}

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context, e.g. sample counts
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the taxonomy kind of the error code.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error carrying metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons. Matching is by code, so errors built
// with metadata still match their sentinel.
var (
	ErrSignalTooShort         = New(CodeSignalTooShort, "signal too short")
	ErrInsufficientSamples    = New(CodeInsufficientSamples, "insufficient samples")
	ErrNoFrequencyInRange     = New(CodeNoFrequencyInRange, "no frequency in range")
	ErrInvalidSampleRate      = New(CodeInvalidSampleRate, "invalid sample rate")
	ErrInvalidTraceShape      = New(CodeInvalidTraceShape, "invalid trace shape")
	ErrUnknownMethod          = New(CodeUnknownMethod, "unknown separation method")
	ErrUnknownProtocol        = New(CodeUnknownProtocol, "unknown protocol")
	ErrInvalidConfig          = New(CodeInvalidConfig, "invalid configuration")
	ErrNoActiveProtocol       = New(CodeNoActiveProtocol, "no active protocol")
	ErrInvalidStateTransition = New(CodeInvalidStateTransition, "invalid state transition")
	ErrMissingDependency      = New(CodeMissingDependency, "missing dependency")
	ErrNoRegionDetected       = New(CodeNoRegionDetected, "no region detected")
)

// SignalTooShort reports a signal with fewer than min samples.
func SignalTooShort(got, min int) error {
	return WithMetadata(CodeSignalTooShort,
		fmt.Sprintf("signal too short: %d samples, need at least %d", got, min),
		map[string]string{"samples": fmt.Sprint(got), "required": fmt.Sprint(min)})
}

// InsufficientSamples reports a trace that cannot cover the requested duration.
func InsufficientSamples(got, min int) error {
	return WithMetadata(CodeInsufficientSamples,
		fmt.Sprintf("insufficient samples: %d, need at least %d", got, min),
		map[string]string{"samples": fmt.Sprint(got), "required": fmt.Sprint(min)})
}

// NoFrequencyInRange reports an empty or powerless band.
func NoFrequencyInRange(lowHz, highHz float64) error {
	return WithMetadata(CodeNoFrequencyInRange,
		fmt.Sprintf("no spectral content in [%.2f, %.2f] Hz", lowHz, highHz),
		map[string]string{"low_hz": fmt.Sprintf("%.2f", lowHz), "high_hz": fmt.Sprintf("%.2f", highHz)})
}

// InvalidSampleRate reports a non-positive sample rate.
func InvalidSampleRate(hz float64) error {
	return WithMetadata(CodeInvalidSampleRate,
		fmt.Sprintf("sample rate must be positive, got %g", hz),
		map[string]string{"sample_rate_hz": fmt.Sprint(hz)})
}

// UnknownProtocol reports a protocol name missing from the registry.
func UnknownProtocol(name string) error {
	return WithMetadata(CodeUnknownProtocol,
		fmt.Sprintf("unknown protocol %q", name),
		map[string]string{"protocol": name})
}

// InvalidStateTransition reports an operation not allowed from the current status.
func InvalidStateTransition(op, from string) error {
	return WithMetadata(CodeInvalidStateTransition,
		fmt.Sprintf("cannot %s from status %s", op, from),
		map[string]string{"operation": op, "status": from})
}

// MissingDependency reports a separation method whose backend is unavailable.
func MissingDependency(method, backend string) error {
	return WithMetadata(CodeMissingDependency,
		fmt.Sprintf("%s requires the %s backend, which is not available", method, backend),
		map[string]string{"method": method, "backend": backend})
}

// GetCode extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) Kind {
	return GetCode(err).Kind()
}

// IsKind reports whether err belongs to the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// GetMetadata extracts metadata from an error if present.
func GetMetadata(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Metadata
	}
	return nil
}
