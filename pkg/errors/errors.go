package errors

import (
	goerrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies a domain error
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeScriptNotFound ErrorType = "script_not_found"
	ErrorTypeProcess        ErrorType = "process"
	ErrorTypePermission     ErrorType = "permission"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeUnknownTarget  ErrorType = "unknown_target"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeBusy           ErrorType = "busy"
	ErrorTypeIO             ErrorType = "io"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeCancelled      ErrorType = "cancelled"
)

// Typed is implemented by every error that carries an ErrorType
type Typed interface {
	error
	ErrorType() ErrorType
}

// DomainError is the common error shape used across the module
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func newError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

func (e *DomainError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Type))
	sb.WriteString(" error: ")
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(" [")
		sb.WriteString(strings.Join(pairs, ", "))
		sb.WriteString("]")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

func (e *DomainError) ErrorType() ErrorType {
	return e.Type
}

// WithContext attaches a key/value pair and returns the same error for chaining
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ContextValue returns a context value and whether it was set
func (e *DomainError) ContextValue(key string) (interface{}, bool) {
	if e.Context == nil {
		return nil, false
	}
	v, ok := e.Context[key]
	return v, ok
}

func NewValidationError(message string, cause error) *DomainError {
	return newError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return newError(ErrorTypeNotFound, message, cause)
}

func NewScriptNotFoundError(message string, cause error) *DomainError {
	return newError(ErrorTypeScriptNotFound, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return newError(ErrorTypeProcess, message, cause)
}

// NewPermissionError reports a spawn refused by the OS, including denied elevation
func NewPermissionError(message string, cause error) *DomainError {
	return newError(ErrorTypePermission, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return newError(ErrorTypeTimeout, message, cause)
}

func NewUnknownTargetError(message string, cause error) *DomainError {
	return newError(ErrorTypeUnknownTarget, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return newError(ErrorTypeNetwork, message, cause)
}

func NewBusyError(message string, cause error) *DomainError {
	return newError(ErrorTypeBusy, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return newError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return newError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return newError(ErrorTypeCancelled, message, cause)
}

// GetType returns the type of the outermost typed error in the chain, or "" if none
func GetType(err error) ErrorType {
	var typed Typed
	if goerrors.As(err, &typed) {
		return typed.ErrorType()
	}
	return ""
}

// IsType reports whether any error in the chain has the given type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		if typed, ok := err.(Typed); ok && typed.ErrorType() == errorType {
			return true
		}
		err = goerrors.Unwrap(err)
	}
	return false
}

// IsProcessFailure reports failures the caller treats as "the external process did not succeed"
func IsProcessFailure(err error) bool {
	return IsType(err, ErrorTypeProcess) || IsType(err, ErrorTypePermission) || IsType(err, ErrorTypeTimeout)
}

// ErrorCollection aggregates several errors into one
type ErrorCollection struct {
	errors []error
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{}
}

func (c *ErrorCollection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

func (c *ErrorCollection) HasErrors() bool {
	return len(c.errors) > 0
}

func (c *ErrorCollection) Errors() []error {
	out := make([]error, len(c.errors))
	copy(out, c.errors)
	return out
}

// ToError returns nil, the single error, or a joined error
func (c *ErrorCollection) ToError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return goerrors.Join(c.errors...)
	}
}
