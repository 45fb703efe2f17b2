package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Store implementations.
var (
	ErrJobExists    = errors.New("fanin: job already exists")
	ErrJobNotFound  = errors.New("fanin: job not found")
	ErrJobFinalized = errors.New("fanin: job already finalized")
)

// Validation errors raised at the reporting and creation boundaries.
var (
	ErrEmptyJobID       = errors.New("fanin: job id is required")
	ErrEmptySubtaskID   = errors.New("fanin: subtask id is required")
	ErrNoSubtasks       = errors.New("fanin: at least one subtask id is required")
	ErrTooManySubtasks  = errors.New("fanin: subtask count exceeds limit")
	ErrInvalidID        = errors.New("fanin: invalid id (must be alphanumeric, start with letter)")
	ErrIDTooLong        = errors.New("fanin: id too long")
	ErrMetadataTooLarge = errors.New("fanin: metadata exceeds size limit")
)

// StorageError wraps a failure from a Store operation. Callers treat these
// as retryable: the operation is reattempted on a later tick or surfaced as
// a non-fatal failure, never as a batch abort.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("fanin: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err as a StorageError, passing sentinel errors
// through unchanged so callers can match them with errors.Is.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrJobExists) || errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobFinalized) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// TriggerDeliveryError indicates the downstream queue send failed. The job
// stays non-terminal and the send is retried on the next tick.
type TriggerDeliveryError struct {
	JobID string
	Queue string
	Err   error
}

func (e *TriggerDeliveryError) Error() string {
	return fmt.Sprintf("fanin: downstream send for job %s to %s: %v", e.JobID, e.Queue, e.Err)
}

func (e *TriggerDeliveryError) Unwrap() error {
	return e.Err
}
