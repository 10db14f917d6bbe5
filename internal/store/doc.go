// Package store archives terminal auctions in SQLite.
//
// Live auctions are held in memory by the coordinator. Once an auction has
// been terminal for its retention window it is written here with all of its
// quotes and dropped from memory, so duplicate detection and status reads
// keep working for it.
//
// Records are write-once: archiving the same intent hash twice is a no-op.
// Timestamps are stored as Unix nanoseconds, zero meaning unset.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
