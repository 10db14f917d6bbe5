// Package auction runs the order-flow auction for canonical intents.
//
// Each intent hash owns one auction record moving through
//
//	pending -> quoting -> selecting -> accepted -> executing -> completed
//	                                                          \-> failed
//
// with failed reachable from any non-terminal state. Records live in a
// table sharded by hash; every mutation of one record happens under that
// record's mutex, so two handlers can never both run selection or both
// honor an execution result for the same hash. Unrelated auctions never
// contend.
//
// Time only advances through the injected clock. The quote window,
// exclusivity window and retention period are timers on that clock, and
// every timer callback re-checks the record state, so a timer firing after
// a transition is a no-op.
//
// Events and solver messages produced by a transition are collected while
// the lock is held and delivered after it is released.
package auction
