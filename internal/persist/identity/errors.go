package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityViolation reports that the table can no longer guarantee
	// a one-to-one binding between reference ids and live objects.
	ErrIdentityViolation = errors.New("identity: violation")

	// ErrInvalidObject is returned for values that cannot carry an identity:
	// nil, non-pointer or pointers to zero-size types.
	ErrInvalidObject = errors.New("identity: object must be a non-nil pointer to a sized value")
)

// ViolationError describes an identity violation for a single reference id.
type ViolationError struct {
	ID     int32
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("identity: reference %d: %s", e.ID, e.Reason)
}

// Is reports ErrIdentityViolation so callers can match with errors.Is.
func (e *ViolationError) Is(target error) bool {
	return target == ErrIdentityViolation
}

func violation(id int32, format string, args ...any) error {
	return &ViolationError{ID: id, Reason: fmt.Sprintf(format, args...)}
}
