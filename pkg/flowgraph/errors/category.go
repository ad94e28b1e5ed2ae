// Package errors classifies failures of external calls (LLM, SQL,
// persistence) and retries the transient ones with backoff.
//
// Retries here are call-level: one LLM request re-sent after a rate limit.
// Workflow-level retries, where a node runs again, are decided by the
// graph's routers from the node's retry counter.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient: retrying the same call will likely help.
	// Rate limits, overloaded upstreams, timeouts.
	CategoryTransient Category = iota

	// CategoryPermanent: retrying the same call will not help.
	// Bad credentials, cancelled contexts, unknown failures.
	CategoryPermanent

	// CategoryMalformed: the call succeeded but its output could not be
	// used. Asking again with the same prompt may help, so the workflow
	// records it as a node error and lets the retry policy decide.
	CategoryMalformed
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	Err      error
	Category Category
	// Retries is the number of attempts made.
	Retries int
	// Context describes the operation being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Malformed creates a malformed-output error.
func Malformed(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryMalformed, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 408, 429, 503, 504, 529:
			return CategoryTransient
		case 401, 403:
			return CategoryPermanent
		default:
			if httpErr.StatusCode >= 500 {
				return CategoryTransient
			}
			return CategoryPermanent
		}
	}

	var jsonErr *JSONParseError
	if errors.As(err, &jsonErr) {
		return CategoryMalformed
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryMalformed
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the same call should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsMalformed reports whether the error is unusable model output.
func IsMalformed(err error) bool {
	return Categorize(err) == CategoryMalformed
}
