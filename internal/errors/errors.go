// Package errors provides the structured error taxonomy for call
// supervision. The pipeline itself fails open — evaluation and panel
// failures degrade to safe verdicts and are only logged — so these types
// mostly classify errors at the edges: config loading, the policy store,
// the monitor, and operator commands.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType is the category of a supervision error.
type ErrorType int

const (
	// ErrorTypeConfig - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// ErrorTypeEvaluation - judge call or verdict parsing failed
	ErrorTypeEvaluation
	// ErrorTypePanelMember - one panel member failed; siblings unaffected
	ErrorTypePanelMember
	// ErrorTypeGuidance - guidance rendezvous bookkeeping failed
	ErrorTypeGuidance
	// ErrorTypeControl - malformed or unauthorized operator command
	ErrorTypeControl
	// ErrorTypeStorage - policy store or recording I/O failed
	ErrorTypeStorage
	// ErrorTypeExternal - broadcast/audit collaborator failed
	ErrorTypeExternal
	// ErrorTypeInternal - unexpected internal state
	ErrorTypeInternal
)

// Severity says how much of the system an error may take down.
type Severity int

const (
	// SeverityLow - degraded locally, processing continues
	SeverityLow Severity = iota
	// SeverityMedium - a feature is impaired for this call
	SeverityMedium
	// SeverityHigh - the current call cannot proceed normally
	SeverityHigh
	// SeverityCritical - the process cannot continue
	SeverityCritical
)

// Error is a structured error with category, severity, and context.
type Error struct {
	Type     ErrorType
	Severity Severity
	Message  string
	Cause    error
	Context  map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on category so callers can branch with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithContext attaches a key/value pair for logging.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// DetailedString renders the error with its context for log output.
func (e *Error) DetailedString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] [%s] %s", severityString(e.Severity), typeString(e.Type), e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}
	for k, v := range e.Context {
		sb.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConfig:
		return "config"
	case ErrorTypeEvaluation:
		return "evaluation"
	case ErrorTypePanelMember:
		return "panel_member"
	case ErrorTypeGuidance:
		return "guidance"
	case ErrorTypeControl:
		return "control"
	case ErrorTypeStorage:
		return "storage"
	case ErrorTypeExternal:
		return "external"
	default:
		return "internal"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}

// New creates a structured error.
func New(t ErrorType, severity Severity, message string) *Error {
	return &Error{Type: t, Severity: severity, Message: message}
}

// Wrap creates a structured error around a cause.
func Wrap(t ErrorType, severity Severity, message string, cause error) *Error {
	return &Error{Type: t, Severity: severity, Message: message, Cause: cause}
}

// NewControl builds the negative acknowledgment for a rejected operator
// command.
func NewControl(message string) *Error {
	return New(ErrorTypeControl, SeverityLow, message)
}

// IsType reports whether err (or anything it wraps) has the given
// category.
func IsType(err error, t ErrorType) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Type == t
	}
	return false
}
