package model

import "fmt"

// ValidationError reports a missing or malformed connection parameter.
// It is raised before any database attempt.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// ConnectionError wraps a failed connection attempt. Timeout reports a
// dedicated message so the client can tell it apart from auth failures.
type ConnectionError struct {
	Message string
	Timeout bool
}

func (e *ConnectionError) Error() string {
	return e.Message
}

// PolicyError reports an ad hoc query rejected by the allow-list guard.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return e.Reason
}
