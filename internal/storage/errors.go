package storage

import "errors"

var (
	// ErrNotFound is returned by OpenInput for a delta that does not exist
	// or has not been committed.
	ErrNotFound = errors.New("storage: delta not found")

	// ErrOwnershipLost means another instance has claimed the agent.
	ErrOwnershipLost = errors.New("storage: ownership claimed by another instance")

	// ErrNoOutput is returned by FinishOutput without a matching OpenOutput.
	ErrNoOutput = errors.New("storage: no output in progress")

	ErrBackendClosed = errors.New("storage: backend closed")
)
