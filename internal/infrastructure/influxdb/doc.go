// Package influxdb provides time-series recording of device state history.
//
// This package wraps the InfluxDB v2 Go client with:
//   - Token-based connection with ping verification
//   - Non-blocking batched writes (WriteAPI)
//   - Async write-error callback
//   - Helpers for the adapter's measurements (device_function, sync_events)
//
// The integration is optional: when influxdb.enabled is false in config,
// Connect returns ErrDisabled and callers run without history recording.
//
// Writes silently no-op when disconnected; state synchronization must never
// block on telemetry.
package influxdb
