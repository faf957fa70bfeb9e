package detect

import "time"

// LockSnapshot is one observed lock state at poll time. Snapshots are
// produced fresh each cycle by the lock-cloud adapter and never persisted.
type LockSnapshot struct {
	LockID    string
	Engaged   bool
	HolderID  string // card UID of the last holder, empty when unknown
	EngagedAt string // raw timestamp as reported by the source, may lack a zone
}

// Violation is a snapshot that qualified against the staleness threshold.
type Violation struct {
	UnitID    string
	LockID    string
	HolderID  string
	EngagedAt time.Time // normalized to UTC
}
