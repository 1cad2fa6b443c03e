// Package device holds site device metadata and the property derivation
// strategies.
//
// The cloud speaks in raw (si, fn, fv) triples; this package turns them
// into meaningful fields per device kind. Derivation is a lookup table of
// pure functions keyed by the vendor's type identifier, so adding a new
// device kind is one table entry, not another branch in a type switch.
package device
