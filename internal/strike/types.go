package strike

import "time"

// Record is the durable strike state for one card identity.
//
// Strike1At and Strike2At are nil until the corresponding strike is
// applied, and are cleared together by the third violation and by decay.
// Counter counts escalations beyond the second strike and is never
// decremented. LastViolationAt is refreshed on every processed violation
// and drives cooldown suppression.
type Record struct {
	Identity        string
	Strike1At       *time.Time
	Strike2At       *time.Time
	Counter         int
	LastViolationAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// State is the latent escalation state of a record, derived purely from
// which strike timestamps are set.
type State int

const (
	// StateClean means no active strikes.
	StateClean State = iota
	// StateOneStrike means strike 1 is set, strike 2 is not.
	StateOneStrike
	// StateTwoStrikes means both strikes are set; the next violation
	// rolls the record over and bumps the counter.
	StateTwoStrikes
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateOneStrike:
		return "one_strike"
	case StateTwoStrikes:
		return "two_strikes"
	default:
		return "unknown"
	}
}

// StateOf projects a record onto its latent state. This is the only place
// state is inferred from the strike fields; the engine, the ledger, and
// tests all go through it.
//
// A record with strike 2 set but strike 1 unset is unreachable through the
// engine. StateOf maps it to StateTwoStrikes so a corrupted record still
// rolls over rather than double-applying strike 1; integrity checking is
// the ledger's job.
func StateOf(rec *Record) State {
	switch {
	case rec.Strike1At == nil && rec.Strike2At == nil:
		return StateClean
	case rec.Strike2At == nil:
		return StateOneStrike
	default:
		return StateTwoStrikes
	}
}

// OutcomeType classifies the result of applying one violation.
type OutcomeType string

const (
	// OutcomeStrike1 is the first unresolved violation.
	OutcomeStrike1 OutcomeType = "strike_1"
	// OutcomeStrike2 is the second.
	OutcomeStrike2 OutcomeType = "strike_2"
	// OutcomeStrike3 is the third violation for a first-time offender
	// (counter was 0 before the increment).
	OutcomeStrike3 OutcomeType = "strike_3"
	// OutcomeCounter is a third-and-beyond violation by a repeat
	// offender (counter was already positive).
	OutcomeCounter OutcomeType = "counter"
)

// Revokes reports whether this outcome triggers credential revocation.
// Strike 3 and every repeat thereafter revoke.
func (t OutcomeType) Revokes() bool {
	return t == OutcomeStrike3 || t == OutcomeCounter
}

// Outcome is the classified result of one escalation, carrying everything
// downstream messaging needs.
type Outcome struct {
	Type       OutcomeType
	Identity   string
	UnitID     string
	LockID     string
	Counter    int       // post-increment where relevant
	OccurredAt time.Time // when the escalation was applied
}
