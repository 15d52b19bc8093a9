// Package domain provides shared domain-level sentinel errors and the
// error taxonomy used by the storage engine.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity, link, or plan does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a duplicate id, a duplicate link triple, or an
// optimistic-version mismatch.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates a structurally invalid input (empty batch,
// unknown entity kind, malformed operation).
var ErrValidation = errors.New("validation failed")

// ErrTimeout indicates a lock could not be acquired within its deadline.
var ErrTimeout = errors.New("timeout")

// NotFound wraps ErrNotFound with the kind and id of the missing record.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Conflict wraps ErrConflict with a reason.
func Conflict(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Validation wraps ErrValidation with a reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// VersionConflict reports an optimistic-concurrency failure on update.
func VersionConflict(id string, supplied, stored int) error {
	return fmt.Errorf("entity %q: supplied version %d does not match stored version %d: %w",
		id, supplied, stored, ErrConflict)
}

// BatchStage identifies where in its lifecycle a batch execution failed.
type BatchStage string

const (
	StageValidating BatchStage = "validating"
	StageOverlaying BatchStage = "overlaying"
	StageReplaying  BatchStage = "replaying"
	StageCommitting BatchStage = "committing"
)

// CommitError reports a failure during the Committing stage of a batch.
// Unlike failures in earlier stages, some disk writes may already have
// happened; callers must treat plan state as indeterminate and re-read
// before retrying.
type CommitError struct {
	Stage BatchStage
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("batch commit failed during %s: %v", e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
