package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors matched through errors.Is by callers that only care about the kind.
var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrCapacityExceeded  = errors.New("greenhouse capacity exceeded")
	ErrDanglingReference = errors.New("dangling reference")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
)

// InvalidTransitionError is returned when a seed cannot leave its current phase.
type InvalidTransitionError struct {
	SeedID string
	From   Phase
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("seed %s cannot advance from %s", e.SeedID, e.From)
}

// Is matches ErrInvalidTransition.
func (e InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// CapacityExceededError reports a planting request larger than the free slots.
type CapacityExceededError struct {
	GreenhouseID string
	Capacity     int
	Current      int
	Requested    int
}

func (e CapacityExceededError) Error() string {
	return fmt.Sprintf("greenhouse %s holds %d/%d seeds, cannot add %d", e.GreenhouseID, e.Current, e.Capacity, e.Requested)
}

// Is matches ErrCapacityExceeded.
func (e CapacityExceededError) Is(target error) bool { return target == ErrCapacityExceeded }

// Remaining returns the number of free slots at the time of the request.
func (e CapacityExceededError) Remaining() int {
	if free := e.Capacity - e.Current; free > 0 {
		return free
	}
	return 0
}

// DanglingReferenceError marks a seed whose seed type or substrate no longer
// resolves. It is informational: derived values are skipped, nothing fails.
type DanglingReferenceError struct {
	Entity EntityType
	ID     string
}

func (e DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s %s no longer exists", e.Entity, e.ID)
}

// Is matches ErrDanglingReference.
func (e DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// ErrNotFound indicates the requested record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ValidationError reports a rejected field value on input records.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
