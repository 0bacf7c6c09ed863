package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Job lifecycle
	ErrStatusConflict = errors.New("job status changed concurrently")
	ErrJobTerminal    = errors.New("job already in a terminal state")
	ErrIllegalState   = errors.New("illegal job status transition")
	ErrCancelled      = errors.New("run cancelled")

	// Planning and execution
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrNoProviders        = errors.New("stage has no providers configured")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrDeadlineExceeded   = errors.New("run deadline exceeded before a required stage was dispatched")
	ErrRateLimited        = errors.New("submission rate limit exceeded")
	ErrLockNotAcquired    = errors.New("lock not acquired")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
