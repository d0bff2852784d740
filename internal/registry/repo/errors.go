package repo

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a uuid/fid lookup miss.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// DuplicatedError indicates a uuid or fid collision on add.
type DuplicatedError struct {
	Resource string
	ID       string
}

func (e *DuplicatedError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.ID)
}

// ValidationError indicates a malformed filter or entity.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// UnauthorizedError indicates an anonymous caller lacking access. Distinct
// from ForbiddenError so clients can prompt for authentication instead of
// denying outright.
type UnauthorizedError struct{}

func (e *UnauthorizedError) Error() string { return "unauthorized" }

// ForbiddenError indicates an authenticated caller lacking access.
type ForbiddenError struct{}

func (e *ForbiddenError) Error() string { return "forbidden" }

// UnknownError wraps a backend driver failure. The original error is kept
// for logs but never escapes the repository contract unwrapped.
type UnknownError struct {
	Op  string
	Err error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UnknownError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDuplicated reports whether err is a DuplicatedError.
func IsDuplicated(err error) bool {
	var dup *DuplicatedError
	return errors.As(err, &dup)
}
