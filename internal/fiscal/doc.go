// Package fiscal holds the pure fiscal-day logic: the device state variant and
// its transitions, reconciliation of remote status snapshots into cached device
// state, and reconstruction of the recent fiscal-day timeline.
//
// Nothing in this package performs I/O.
package fiscal
