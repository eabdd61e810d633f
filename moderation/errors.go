package moderation

import (
	"errors"
	"fmt"
)

var (
	ErrNotPermitted    = errors.New("moderator lacks the required capability")
	ErrHierarchy       = errors.New("moderator does not outrank the target")
	ErrInvalidKind     = errors.New("operation not valid for this punishment kind")
	ErrInvalidDuration = errors.New("duration must be positive")
)

// StoreError marks a failure of the persistent store. No state was changed
// by the failed operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ExternalAPIError marks a failed platform call. The state change it
// accompanied has already been committed and stands.
type ExternalAPIError struct {
	Op  string
	Err error
}

func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("external api error during %s: %v", e.Op, e.Err)
}

func (e *ExternalAPIError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func apiErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalAPIError{Op: op, Err: err}
}
