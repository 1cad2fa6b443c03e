package gateway

import "errors"

var (
	// errMissingField indicates a state payload entry lacking one of the
	// required keys (st, si, fn, fv).
	errMissingField = errors.New("state entry missing required field")
)
