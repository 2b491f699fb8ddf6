package models

import "fmt"

// ValidationError reports a malformed, missing or non-numeric input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a selector that matched no stored data
type NotFoundError struct {
	Selector string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no data found for %q", e.Selector)
}

// UpstreamError wraps a failure of the store or a broadcaster
type UpstreamError struct {
	Component string
	Op        string
	Err       error
	Retryable bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Component, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
