// Package gateway owns the broker session used for push-based state
// delivery.
//
// The gateway connects, subscribes to the site's state-upload topic, and
// forwards validated payload entries to the ingestion sink. Because pushes
// arriving while the session is down are gone forever, every session
// establishment triggers an immediate full-state resync through the same
// sink, so the mirror converges before the next live push.
//
// Session loss starts a reconnect worker with a short escalating backoff
// that settles at its final value and retries indefinitely. The broker is
// the primary transport; giving up is not an option, and mode fallback to
// polling is the arbiter's job, signalled through the OnDown callback.
package gateway
