// Package errors defines the typed error taxonomy shared by the loader,
// resolver, sandbox and packager. Every error carries a category and a code
// so callers at the HTTP and CLI boundary can map failures without string
// matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeResolution     ErrorType = "resolution"
	ErrorTypeLoad           ErrorType = "load"
	ErrorTypeExecution      ErrorType = "execution"
	ErrorTypeBundleNotFound ErrorType = "bundle_not_found"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeIO             ErrorType = "io"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeInternal       ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeUnresolvable      = "ERR_UNRESOLVABLE"
	ErrCodeLoadFailed        = "ERR_LOAD_FAILED"
	ErrCodeFetchFailed       = "ERR_FETCH_FAILED"
	ErrCodeExecutionFailed   = "ERR_EXECUTION_FAILED"
	ErrCodeBundleNotFound    = "ERR_BUNDLE_NOT_FOUND"
	ErrCodeAssetNotFound     = "ERR_ASSET_NOT_FOUND"
	ErrCodeScopeHoisting     = "ERR_SCOPE_HOISTING"
	ErrCodeValidationFailed  = "ERR_VALIDATION_FAILED"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound      = "ERR_FILE_NOT_FOUND"
	ErrCodeInternalError     = "ERR_INTERNAL"
	ErrCodeUnknownResolution = "ERR_UNKNOWN_RESOLUTION"
)

// PackError is a structured error type with context.
type PackError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Context   map[string]any
	FilePath  string
	Specifier string
}

// Error implements the error interface.
func (e *PackError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.FilePath != "" && e.Specifier == "" {
		parts = append(parts, e.FilePath)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PackError) Unwrap() error {
	return e.Cause
}

// Is matches another PackError with the same type and code.
func (e *PackError) Is(target error) bool {
	var t *PackError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PackError) WithContext(key string, value any) *PackError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value

	return e
}

// WithFile records the file the error relates to.
func (e *PackError) WithFile(filePath string) *PackError {
	e.FilePath = filePath

	return e
}

// NewResolutionError reports a specifier that maps to neither a file nor a
// builtin.
func NewResolutionError(specifier, from string, cause error) *PackError {
	return &PackError{
		Type:      ErrorTypeResolution,
		Code:      ErrCodeUnresolvable,
		Message:   fmt.Sprintf("Could not resolve module %q from %q", specifier, from),
		Cause:     cause,
		FilePath:  from,
		Specifier: specifier,
	}
}

// NewLoadError reports a failed bundle load. Cause is usually the first
// failing fetch task.
func NewLoadError(code, message string, cause error) *PackError {
	return &PackError{
		Type:    ErrorTypeLoad,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewExecutionError wraps an error raised by interpreted artifact code.
func NewExecutionError(filePath string, cause error) *PackError {
	return &PackError{
		Type:     ErrorTypeExecution,
		Code:     ErrCodeExecutionFailed,
		Message:  "module execution failed",
		Cause:    cause,
		FilePath: filePath,
	}
}

// NewBundleNotFoundError reports a bundle lookup by id or name with no match.
func NewBundleNotFoundError(name string) *PackError {
	return &PackError{
		Type:    ErrorTypeBundleNotFound,
		Code:    ErrCodeBundleNotFound,
		Message: "Bundle not found: " + name,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PackError {
	return &PackError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PackError {
	return &PackError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PackError {
	return &PackError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PackError {
	return &PackError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// TypeOf returns the category of the outermost PackError in the chain, or
// the empty string.
func TypeOf(err error) ErrorType {
	var pe *PackError
	if errors.As(err, &pe) {
		return pe.Type
	}

	return ""
}

func hasType(err error, t ErrorType) bool {
	for err != nil {
		var pe *PackError
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Type == t {
			return true
		}
		err = pe.Cause
	}

	return false
}

// IsResolutionError reports whether any error in the chain is a resolution
// failure.
func IsResolutionError(err error) bool {
	return hasType(err, ErrorTypeResolution)
}

// IsLoadError reports whether any error in the chain is a load failure.
func IsLoadError(err error) bool {
	return hasType(err, ErrorTypeLoad)
}

// IsExecutionError reports whether any error in the chain came from
// interpreted code.
func IsExecutionError(err error) bool {
	return hasType(err, ErrorTypeExecution)
}

// IsBundleNotFound reports whether any error in the chain is a missing
// bundle.
func IsBundleNotFound(err error) bool {
	return hasType(err, ErrorTypeBundleNotFound)
}

// Wrap annotates err with msg, keeping it matchable with errors.Is/As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", msg, err)
}
