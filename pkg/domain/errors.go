package domain

import "fmt"

// ValidationError reports structurally invalid input such as a negative pond
// area or negative counts. It aborts only the current operation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConfigurationError reports a missing or inconsistent configuration
// precondition, e.g. a projection run against a missing or inactive plan.
// It aborts generation before any write.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Setting, e.Message)
}

// PartialWriteError reports a batch write that failed mid-run. Batches
// committed before the failure are preserved; the remaining run is aborted.
type PartialWriteError struct {
	CommittedBatches int
	CommittedRows    int
	Err              error
}

func (e PartialWriteError) Error() string {
	return fmt.Sprintf("batch write failed after %d committed batches (%d rows): %v", e.CommittedBatches, e.CommittedRows, e.Err)
}

// Unwrap exposes the underlying batch failure.
func (e PartialWriteError) Unwrap() error {
	return e.Err
}

// ErrNotFound is returned when reference validation fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
