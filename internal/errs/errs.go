// Package errs implements the investigative intelligence engine's
// error taxonomy: errors are classified by kind (Configuration,
// Capability, Contract, Resource, Structural), not by Go type. Every
// strategy and engine boundary converts errors of this shape into a
// domain.AnalysisResult rather than letting them propagate as panics.
package errs

import (
	"encoding/json"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// KindConfiguration covers missing strategy registrations, unknown
	// exploration strategies, and bad rate-limit configuration.
	KindConfiguration Kind = "configuration"
	// KindCapability covers failures of an external collaborator: the
	// LLM returning non-JSON when JSON was requested, LLM timeouts or
	// network errors, or the graph backend rejecting an entity or
	// relationship.
	KindCapability Kind = "capability"
	// KindContract covers a caller violating a strategy's documented
	// input contract: a missing required parameter.
	KindContract Kind = "contract"
	// KindResource covers deadline exhaustion.
	KindResource Kind = "resource"
	// KindStructural covers cyclic phase dependencies, unsatisfiable
	// dependencies, and corrupt snapshots.
	KindStructural Kind = "structural"
)

// Code is a short machine-readable identifier within a Kind.
type Code string

const (
	CodeNoStrategy          Code = "NO_STRATEGY_FOUND"
	CodeUnknownExploration  Code = "UNKNOWN_EXPLORATION_STRATEGY"
	CodeBadRateLimit        Code = "BAD_RATE_LIMIT_CONFIG"
	CodeLLMMalformedJSON    Code = "LLM_MALFORMED_JSON"
	CodeLLMTimeout          Code = "LLM_TIMEOUT"
	CodeLLMNetwork          Code = "LLM_NETWORK_ERROR"
	CodeGraphRejected       Code = "GRAPH_REJECTED_WRITE"
	CodeMissingParameter    Code = "MISSING_PARAMETER"
	CodeInvalidParameter    Code = "INVALID_PARAMETER"
	CodeDeadlineExceeded    Code = "DEADLINE_EXCEEDED"
	CodeCyclicDependency    Code = "CYCLIC_DEPENDENCY"
	CodeUnsatisfiableDeps   Code = "UNSATISFIABLE_DEPENDENCY"
	CodeCorruptSnapshot     Code = "CORRUPT_SNAPSHOT"
)

// Error is a structured, serializable error carrying a Kind, a Code, a
// human-readable Message, optional Details, and a recovery Suggestion.
type Error struct {
	Kind       Kind   `json:"kind"`
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

// ToJSON renders the error as a JSON string, falling back to a minimal
// hand-built object if marshaling itself fails.
func (e *Error) ToJSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"kind":"%s","code":"%s","message":"%s"}`, e.Kind, e.Code, e.Message)
	}
	return string(b)
}

// New builds an Error of the given kind and code.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithDetails attaches structured detail to the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithSuggestion attaches a recovery suggestion to the error.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// NewNoStrategy builds the Configuration error the Engine returns when
// no registered strategy can handle a request's kind.
func NewNoStrategy(kind string) *Error {
	return New(KindConfiguration, CodeNoStrategy, fmt.Sprintf("No strategy found for analysis type: %s", kind)).
		WithSuggestion("Register a strategy that handles this analysis kind")
}

// NewUnknownExploration builds a Configuration error for an
// unrecognized exploration strategy name.
func NewUnknownExploration(name string) *Error {
	return New(KindConfiguration, CodeUnknownExploration, fmt.Sprintf("Unknown exploration strategy: %s", name))
}

// NewBadRateLimit builds a Configuration error for invalid rate-limit
// values (non-positive requests/tokens per minute).
func NewBadRateLimit(message string) *Error {
	return New(KindConfiguration, CodeBadRateLimit, message)
}

// NewLLMMalformedJSON builds a Capability error for an LLM completion
// that failed to parse as JSON when JSON was required.
func NewLLMMalformedJSON(parseErr error) *Error {
	return New(KindCapability, CodeLLMMalformedJSON, fmt.Sprintf("LLM response was not valid JSON: %v", parseErr))
}

// NewLLMTimeout builds a Capability error for an LLM call that
// exceeded its own deadline.
func NewLLMTimeout() *Error {
	return New(KindCapability, CodeLLMTimeout, "LLM request timed out")
}

// NewLLMNetwork builds a Capability error for a transport-level LLM
// failure.
func NewLLMNetwork(cause error) *Error {
	return New(KindCapability, CodeLLMNetwork, fmt.Sprintf("LLM network error: %v", cause))
}

// NewGraphRejected builds a Capability error for a graph write the
// backend refused (e.g. a relationship whose endpoint does not exist).
func NewGraphRejected(reason string) *Error {
	return New(KindCapability, CodeGraphRejected, reason)
}

// NewMissingParameter builds a Contract error for a required parameter
// a caller failed to supply.
func NewMissingParameter(param string) *Error {
	return New(KindContract, CodeMissingParameter, fmt.Sprintf("Required parameter '%s' is missing", param)).
		WithSuggestion(fmt.Sprintf("Provide the '%s' parameter", param))
}

// NewInvalidParameter builds a Contract error for a supplied parameter
// that fails validation.
func NewInvalidParameter(param, reason string) *Error {
	return New(KindContract, CodeInvalidParameter, fmt.Sprintf("Parameter '%s' is invalid: %s", param, reason))
}

// NewDeadlineExceeded builds a Resource error for an operation that
// ran past its deadline, taking the number of seconds the caller
// allotted.
func NewDeadlineExceeded(operation string, afterSeconds float64) *Error {
	return New(KindResource, CodeDeadlineExceeded, fmt.Sprintf("%s timed out after %.0f seconds", operation, afterSeconds))
}

// NewCyclicDependency builds a Structural error for a phase dependency
// graph that is not a DAG.
func NewCyclicDependency(detail string) *Error {
	return New(KindStructural, CodeCyclicDependency, fmt.Sprintf("Cyclic phase dependency detected: %s", detail))
}

// NewUnsatisfiableDependency builds a Structural error for phases
// whose dependencies can never all complete.
func NewUnsatisfiableDependency(detail string) *Error {
	return New(KindStructural, CodeUnsatisfiableDeps, fmt.Sprintf("Unsatisfiable phase dependency: %s", detail))
}

// NewCorruptSnapshot builds a Structural error for a malformed
// save/load snapshot.
func NewCorruptSnapshot(reason string) *Error {
	return New(KindStructural, CodeCorruptSnapshot, fmt.Sprintf("Corrupt investigation snapshot: %s", reason))
}
