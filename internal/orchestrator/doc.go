// Package orchestrator runs reconciliation cycles.
//
// A cycle polls lock state, detects violations, escalates each one
// through the ledger, and carries out the consequences: notification
// mail, and on a revoking outcome credential revocation plus directory
// removal. Violations are isolated from each other: one failing never
// blocks the rest, and a consequence failure after a committed
// escalation is logged and reported but the strike stands.
package orchestrator
