package strike

import "time"

// Escalate applies one violation to rec and returns the classified
// outcome. The record is mutated in place; the caller owns persistence
// and atomicity.
//
// Regardless of the transition taken, every call refreshes
// LastViolationAt and UpdatedAt to now. That refresh is what arms the
// cooldown window for subsequent near-term violations by the same
// identity.
func Escalate(rec *Record, unitID, lockID string, now time.Time) Outcome {
	out := Outcome{
		Identity:   rec.Identity,
		UnitID:     unitID,
		LockID:     lockID,
		Counter:    rec.Counter,
		OccurredAt: now,
	}

	switch StateOf(rec) {
	case StateClean:
		t := now
		rec.Strike1At = &t
		out.Type = OutcomeStrike1

	case StateOneStrike:
		t := now
		rec.Strike2At = &t
		out.Type = OutcomeStrike2

	case StateTwoStrikes:
		// Third violation or beyond: the cycle resets and the
		// counter accumulates. Counter never decreases here.
		rec.Strike1At = nil
		rec.Strike2At = nil
		if rec.Counter == 0 {
			out.Type = OutcomeStrike3
		} else {
			out.Type = OutcomeCounter
		}
		rec.Counter++
		out.Counter = rec.Counter
	}

	t := now
	rec.LastViolationAt = &t
	rec.UpdatedAt = now

	return out
}

// Decayed reports whether a record's strikes are old enough to clear:
// the newest of the set strike timestamps is older than now minus the
// decay window. Records with no strikes set never decay. The counter is
// deliberately outside decay's reach.
func Decayed(rec *Record, window time.Duration, now time.Time) bool {
	newest := newestStrike(rec)
	if newest == nil {
		return false
	}
	return newest.Before(now.Add(-window))
}

// newestStrike returns the most recent of the set strike timestamps, or
// nil when neither is set.
func newestStrike(rec *Record) *time.Time {
	switch {
	case rec.Strike1At != nil && rec.Strike2At != nil:
		if rec.Strike2At.After(*rec.Strike1At) {
			return rec.Strike2At
		}
		return rec.Strike1At
	case rec.Strike1At != nil:
		return rec.Strike1At
	case rec.Strike2At != nil:
		return rec.Strike2At
	default:
		return nil
	}
}

// ClearStrikes empties both strike timestamps and bumps UpdatedAt. Used
// by decay and by administrative reset; the counter is untouched.
func ClearStrikes(rec *Record, now time.Time) {
	rec.Strike1At = nil
	rec.Strike2At = nil
	rec.UpdatedAt = now
}
