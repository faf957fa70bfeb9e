// Package detect turns raw lock snapshots into qualifying violations.
//
// A snapshot qualifies when the lock is engaged by an identifiable holder
// and the engagement timestamp is older than the configured threshold.
// Holders inside their cooldown window are suppressed entirely: the
// violation is neither counted nor surfaced. Malformed timestamps are
// logged and skipped, never fatal to the batch.
package detect
