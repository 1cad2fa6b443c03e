package cloudapi

import "errors"

var (
	// ErrRequestFailed indicates a transport-level failure (network,
	// timeout, non-200 status).
	ErrRequestFailed = errors.New("cloud API request failed")

	// ErrAPIError indicates the cloud returned a non-zero result code.
	ErrAPIError = errors.New("cloud API returned error")

	// ErrBadResponse indicates a 200 response whose body could not be
	// decoded.
	ErrBadResponse = errors.New("cloud API response malformed")
)
