package errors

import (
	"errors"
	"fmt"
	"sync"
)

// PageError records a failure to package one page.
type PageError struct {
	Page string
	Err  error
}

// Error implements the error interface
func (pe *PageError) Error() string {
	return fmt.Sprintf("page %s: %v", pe.Page, pe.Err)
}

// Unwrap returns the page failure.
func (pe *PageError) Unwrap() error {
	return pe.Err
}

// ErrorCollector gathers per-page failures during a full build so one broken
// page does not hide the others.
type ErrorCollector struct {
	errors []*PageError
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{}
}

// Add records a page failure. A nil err is ignored.
func (ec *ErrorCollector) Add(page string, err error) {
	if err == nil {
		return
	}

	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, &PageError{Page: page, Err: err})
}

// Errors returns a copy of the collected failures.
func (ec *ErrorCollector) Errors() []*PageError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	out := make([]*PageError, len(ec.errors))
	copy(out, ec.errors)

	return out
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	return len(ec.errors) > 0
}

// Err joins every collected failure, or returns nil.
func (ec *ErrorCollector) Err() error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	if len(ec.errors) == 0 {
		return nil
	}
	errs := make([]error, len(ec.errors))
	for i, pe := range ec.errors {
		errs[i] = pe
	}

	return errors.Join(errs...)
}
