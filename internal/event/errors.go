package event

import "fmt"

// ValidationError marks an event that was rejected before any I/O.
// It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// ErrTooLarge is returned when the serialized event exceeds MaxSize.
var ErrTooLarge = &ValidationError{Field: "payload", Reason: "serialized event exceeds 64KiB"}
