// Package actionbus serializes outbound device commands.
//
// Cloud-connected relay hardware misbehaves when commanded concurrently,
// so all control traffic funnels through one FIFO consumer. Per-device
// occupancy rejects a second command while the first is still in flight;
// callers surface that as a conflict instead of silently queueing
// conflicting writes.
//
// Before each control the bus activates burst polling (when polling is
// the active state transport) and waits a short pre-control delay, so the
// command's effect lands inside an accelerated observation window.
package actionbus
