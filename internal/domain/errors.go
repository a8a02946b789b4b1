package domain

import "fmt"

// ErrorKind enumerates the engine's error taxonomy. Every failure the
// engine surfaces across a component boundary is one of these kinds, never
// a bare error or a numeric sentinel.
type ErrorKind string

const (
	ErrInputInvalid    ErrorKind = "InputInvalid"
	ErrDataUnavailable ErrorKind = "DataUnavailable"
	ErrInsufficientData ErrorKind = "InsufficientData"
	ErrSingularDesign  ErrorKind = "SingularDesign"
	ErrNumericalFailure ErrorKind = "NumericalFailure"
	ErrInfeasible      ErrorKind = "Infeasible"
	ErrCancelled       ErrorKind = "Cancelled"
	ErrCacheCorrupt    ErrorKind = "CacheCorrupt"
)

// Error is the engine's typed failure value: (kind, message, offending
// ticker?, offending factor?, suggested action?). It implements error and
// supports errors.As/errors.Is via Unwrap.
type Error struct {
	Kind            ErrorKind
	Message         string
	OffendingTicker Ticker
	OffendingFactor string
	SuggestedAction string
	cause           error
}

// ErrorOption customizes a constructed Error.
type ErrorOption func(*Error)

// WithTicker attaches the offending ticker to an Error.
func WithTicker(t Ticker) ErrorOption { return func(e *Error) { e.OffendingTicker = t } }

// WithFactor attaches the offending factor label to an Error.
func WithFactor(f string) ErrorOption { return func(e *Error) { e.OffendingFactor = f } }

// WithSuggestion attaches a suggested action to an Error.
func WithSuggestion(s string) ErrorOption { return func(e *Error) { e.SuggestedAction = s } }

// WithCause wraps an underlying error for errors.Unwrap.
func WithCause(err error) ErrorOption { return func(e *Error) { e.cause = err } }

// NewError constructs a typed Error.
func NewError(kind ErrorKind, message string, opts ...ErrorOption) *Error {
	e := &Error{Kind: kind, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.OffendingTicker != "" {
		msg += fmt.Sprintf(" (ticker=%s)", e.OffendingTicker)
	}
	if e.OffendingFactor != "" {
		msg += fmt.Sprintf(" (factor=%s)", e.OffendingFactor)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is(err, domain.NewError(kind, "")) to match by kind
// alone, which is the comparison every caller actually wants.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
