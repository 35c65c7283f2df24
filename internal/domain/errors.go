package domain

import "errors"

var (
	// ErrRunNotFound is returned when no run directory exists for an id
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidConfig is returned for rejected run configuration or parameters
	ErrInvalidConfig = errors.New("invalid run configuration")

	// ErrInvalidTransition is returned when a lifecycle request does not
	// apply to the run's current status
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDuplicateResult is returned when a second result is written for a node
	ErrDuplicateResult = errors.New("result already recorded for node")

	// ErrRunNotCompleted is returned by synthesis on a run that has not completed
	ErrRunNotCompleted = errors.New("run not completed")

	ErrUnknownFormat = errors.New("unknown export format")
	ErrUnknownMode   = errors.New("unknown mode")
)
