// Package router arbitrates how device state reaches the differential
// cache.
//
// Two ingestion modes exist. In polling mode the poll scheduler drives
// periodic full-state fetches. In bus mode broker pushes carry state, and
// an optional low-frequency fallback sweep reconciles drift (missed
// pushes, broker restarts). Exactly one mode is active at a time, and
// every inbound batch is gated on the mode that produced it: batches from
// an inactive transport are dropped, so a mode switch can never be
// corrupted by a late batch from the losing side.
//
// All accepted batches converge on a single notification sink regardless
// of source; downstream consumers never care which transport delivered a
// change.
package router
