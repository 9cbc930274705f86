package scheduler

import "errors"

var (
	// ErrJobQueueFull is logged when a due retry finds the worker queue full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
