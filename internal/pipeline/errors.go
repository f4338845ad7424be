// File: internal/pipeline/errors.go
// Brief: Error taxonomy for pipeline operations.

package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an unknown pipeline, package, or interceptor
	// reference.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists marks a duplicate create.
	ErrAlreadyExists = errors.New("already exists")
	// ErrCorruptState marks a descriptor or manifest that fails structural
	// validation.
	ErrCorruptState = errors.New("corrupt state")
)

// ConfigValidationError reports a typed-value or required-field failure. It
// is raised before any side effect, so correcting the input and retrying is
// always safe.
type ConfigValidationError struct {
	GlobalID string
	Field    string
	Reason   string
}

func (e *ConfigValidationError) Error() string {
	if e.GlobalID == "" {
		return fmt.Sprintf("config field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: config field %q: %s", e.GlobalID, e.Field, e.Reason)
}

// DeployModeConflictError reports that a container manifest already records
// a different deploy mode for a package type. One image cannot host two
// variants of the same concretized type; this is always fatal and never
// auto-resolved.
type DeployModeConflictError struct {
	Container string
	PkgType   string
	Existing  string
	Requested string
}

func (e *DeployModeConflictError) Error() string {
	return fmt.Sprintf("container %q already installs %s with deploy mode %q; cannot augment with %q",
		e.Container, e.PkgType, e.Existing, e.Requested)
}

// ExecutionError reports a command failure during a package lifecycle
// operation, attributed by the package's global ID.
type ExecutionError struct {
	GlobalID string
	Op       string
	Cause    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.GlobalID, e.Op, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }
