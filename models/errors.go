package models

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound means a referenced course, group or user doesn't exist. Not
// retryable; callers surface it as-is.
var ErrNotFound = errors.New("not found")

// ErrConstraintViolation wraps uniqueness or foreign key violations from the
// store. Nothing interprets these specially, they propagate as generic
// persistence failures.
var ErrConstraintViolation = errors.New("constraint violation")

// PolicyViolationError rejects an operation disallowed by a group's or
// membership's join policy, before any mutation happens.
type PolicyViolationError struct {
	Policy GroupPolicy
	Op     string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("%s not allowed by group policy %s", e.Op, e.Policy)
}

// UnresolvedIdentityError reports roster rows that could not be mapped to
// internal users. It is recoverable: the sync has already committed
// everything it could resolve.
type UnresolvedIdentityError struct {
	Unmapped []string
}

func (e *UnresolvedIdentityError) Error() string {
	return fmt.Sprintf("unresolved roster identities: %s", strings.Join(e.Unmapped, ", "))
}

// AdapterError means the external roster source was unreachable or returned
// malformed data. The whole sync aborts without partial commits, since a
// partial roster cannot be diffed safely against current membership.
type AdapterError struct {
	Source string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("roster source %s failed: %v", e.Source, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func wrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	return err
}
