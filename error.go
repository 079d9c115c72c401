package queryz

import (
	"errors"
	"fmt"
	"time"
)

// Configuration and assembly errors.
var (
	ErrUnknownModule      = errors.New("unknown module")
	ErrDuplicateModule    = errors.New("duplicate module name")
	ErrMissingCapability  = errors.New("module lacks required capability")
	ErrInvalidBucketCount = errors.New("bucket count must be positive")
	ErrRequiredKey        = errors.New("required config key missing")
)

// Phase identifies which half of a pipeline run a module was invoked in.
type Phase string

// Pipeline phases.
const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// ModuleError records a module that panicked during a run.
// The query that triggered it ends in StatusError.
type ModuleError struct {
	Timestamp time.Time
	Err       error
	Module    Name
	Phase     Phase
}

// Error implements the error interface.
func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %q (%s-phase) failed: %v", e.Module, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *ModuleError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether a LoadConfig error must abort startup instead of
// falling back to defaults.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidBucketCount) || errors.Is(err, ErrRequiredKey)
}
