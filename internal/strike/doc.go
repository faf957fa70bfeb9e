// Package strike implements the escalation state machine for lock
// violations.
//
// Each card identity carries a durable Record. The state machine is a
// strict three-step cycle: the first violation sets strike 1, the second
// sets strike 2, and the third clears both strikes and increments a
// repeat-offender counter that only ever grows. State is never stored
// explicitly; it is derived from which strike timestamps are set (see
// StateOf), so the record itself stays the single source of truth.
//
// The engine is pure: Escalate mutates a Record in memory and returns the
// classified Outcome. Persistence and transactional semantics live in the
// ledger package.
package strike
