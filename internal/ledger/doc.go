// Package ledger persists per-identity strike records in SQLite.
//
// Every mutating operation runs inside a single database transaction:
// a failure mid-transaction rolls back and leaves the record unchanged,
// and the error surfaces to the caller as recoverable. The ledger is the
// only state that crosses cycle boundaries; the daemon is single-instance,
// so the single-writer SQLite pool is sufficient and the internal locking
// is defensive rather than load-bearing.
//
// Timestamps persist as Unix seconds in UTC. Records round-trip exactly
// at second precision.
package ledger
