// Package mqtt wraps the Eclipse Paho client for the HYQW cloud broker.
//
// This package provides:
//   - Bounded-wait connection establishment
//   - Publish/subscribe with validation and timeouts
//   - Subscription tracking and restoration across reconnects
//   - Panic recovery around message handlers
//   - FMQ topic name builders
//
// # Reconnection
//
// Paho's automatic reconnect is disabled on purpose. The gateway layer owns
// the reconnect sequence (bounded retry intervals, then steady retries at the
// maximum interval) so it can run a full state resync between the reconnect
// and the first push message. See internal/gateway.
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Message handlers run on
// paho's goroutines and must hand off to an owning goroutine before touching
// shared state.
package mqtt
