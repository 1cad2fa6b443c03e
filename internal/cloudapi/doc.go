// Package cloudapi is the HTTP client for the vendor cloud.
//
// It covers the two endpoints the adapter needs: the full device state
// list and single-device control. Requests authenticate with the vendor's
// mobile-session token scheme and are scoped by project code and gateway
// serial number.
//
// The cloud backend has a quirk worth knowing: a cold session cache
// answers state queries with empty lists. The client counts consecutive
// empty results and issues a profile warm-up request at fixed thresholds,
// which reliably repopulates the backend cache.
package cloudapi
