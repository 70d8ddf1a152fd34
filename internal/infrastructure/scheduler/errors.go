package scheduler

import "errors"

var (
	// ErrUnknownJob is returned when RunNow names a job that was never registered
	ErrUnknownJob = errors.New("unknown sync job")

	// ErrJobAlreadyRunning is returned when a run overlaps an in-progress run of the same job
	ErrJobAlreadyRunning = errors.New("sync job already running")

	// ErrDuplicateJob is returned when two jobs share a name
	ErrDuplicateJob = errors.New("duplicate sync job")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
