// Package replay records downstream broker frames and re-emits them on
// demand.
//
// The cloud translates every control request into an opaque frame pushed
// to the site gateway. Capturing those frames while driving a device
// through its value range builds a local command library; replaying a
// stored frame then actuates the device without the vendor cloud in the
// loop. Recorded frames persist in SQLite keyed by device and (fn, fv),
// alongside a list of capture attempts that timed out.
package replay
