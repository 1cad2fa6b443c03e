package replay

import "errors"

var (
	// ErrCommandNotFound indicates no recorded frame exists for the
	// requested device and (fn, fv) pair.
	ErrCommandNotFound = errors.New("no recorded command for key")

	// ErrNotRecording indicates a capture was requested while recording
	// mode is off.
	ErrNotRecording = errors.New("recorder is not in recording mode")

	// ErrCaptureTimeout indicates no downstream frame arrived within the
	// capture window.
	ErrCaptureTimeout = errors.New("no downstream frame captured before timeout")
)
