package dataset

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSplit  = errors.New("invalid split")
	ErrInvariant     = errors.New("invariant violated")
	ErrInvalidRecord = errors.New("invalid record")
	ErrBadStage      = errors.New("operation not allowed in current stage")
)

// InvalidSplitError reports an index set that overlaps another set, repeats an
// index, or falls outside [0, N).
type InvalidSplitError struct {
	Split  string
	Index  int
	Reason string
}

func (e *InvalidSplitError) Error() string {
	return fmt.Sprintf("invalid split: index %d in %v split %v", e.Index, e.Split, e.Reason)
}

func (e *InvalidSplitError) Unwrap() error {
	return ErrInvalidSplit
}

// InvariantError reports input data that breaks an ordering assumption, such as
// a synthetic collection that is not a block of positives followed by negatives.
type InvariantError struct {
	Index  int
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated at index %d: %v", e.Index, e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
