// Package statecache holds the local mirror of remote device state and
// computes minimal change-sets from incoming raw state batches.
//
// The cache is keyed by (si, fn) — device index and function code — and
// stores only the most recent observation per key. Incoming batches are
// compared against the mirror; the difference is reported as a ChangeSet
// (changed devices, per-function old/new values, first-seen devices and
// functions) and only the differing keys are overwritten. Feeding the same
// batch twice therefore yields changes on the first call and none on the
// second.
//
// ForceUpdate supports optimistic echo: the control path writes the
// expected post-command value immediately, unconditionally reported as a
// change, so the UI reflects the action before the remote confirms it.
//
// The cache is transport-agnostic and self-serializing; push handlers,
// poll ticks, fallback sweeps and echoes may all call it concurrently.
package statecache
