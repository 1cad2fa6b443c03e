package actionbus

import "errors"

var (
	// ErrNotRunning indicates a submission to a stopped bus.
	ErrNotRunning = errors.New("action bus is not running")

	// ErrTargetOccupied indicates the target already has an action in
	// flight; the new submission is rejected, not queued behind it.
	ErrTargetOccupied = errors.New("target has an action in flight")

	// ErrQueueFull indicates the pending queue is saturated.
	ErrQueueFull = errors.New("action queue is full")
)
