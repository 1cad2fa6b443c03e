// Package polling provides the adaptive dual-rate poll scheduler.
//
// The scheduler drives an injected query callback at a long steady-state
// interval, switching to a short high-frequency interval for a bounded
// window after local actions (a "burst"). Bursts exist to observe the
// effect of a command quickly without polling aggressively all the time.
//
// Key behaviours:
//   - TriggerBurst preempts an in-progress long sleep via a wake channel;
//     activation is never delayed by up to a full long interval.
//   - Repeated triggers extend the window rather than stacking.
//   - Demotion back to the long rate happens inside the tick loop once the
//     window has elapsed; callers never demote.
//   - Query errors are logged and the loop continues.
package polling
