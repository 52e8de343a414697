package analysis

import "fmt"

// ParseError is returned when model output cannot be recovered to a JSON object
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SchemaError names the first missing or malformed field of a decoded object
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid response structure: %s: %s", e.Field, e.Reason)
}

// ReconciliationError carries the blocking errors of a failed validation.
// Error returns the first one, which is the reason an analysis fails.
type ReconciliationError struct {
	Errors []string
}

func (e *ReconciliationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return e.Errors[0]
}

// StageError records the orchestrator state in which an analysis failed
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
