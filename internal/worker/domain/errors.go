package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrItemNotClaimed is returned when a work item is no longer in progress
	// for this worker, typically because it was reclaimed after a timeout
	ErrItemNotClaimed = errors.New("work item not claimed by this worker")

	// ErrRunNotFound is returned when a job run record cannot be found
	ErrRunNotFound = errors.New("job run not found")
)

// ComputationError is a scoring failure for one work item. It is recorded
// on the item and never aborts the run.
type ComputationError struct {
	ItemID int64
	Reason string
	Err    error
}

func (e *ComputationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scoring work item %d: %s: %v", e.ItemID, e.Reason, e.Err)
	}
	return fmt.Sprintf("scoring work item %d: %s", e.ItemID, e.Reason)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// NewComputationError creates a new computation error
func NewComputationError(itemID int64, reason string, err error) error {
	return &ComputationError{ItemID: itemID, Reason: reason, Err: err}
}

// IsComputation reports whether err is, or wraps, a ComputationError
func IsComputation(err error) bool {
	var compErr *ComputationError
	return errors.As(err, &compErr)
}
