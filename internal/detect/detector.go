package detect

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CooldownFunc reports whether an identity is currently in cooldown.
// The detector treats a true result as deliberate silence: the snapshot
// is dropped without producing a violation.
type CooldownFunc func(ctx context.Context, identity string) bool

// Detector filters lock snapshots against the staleness threshold.
type Detector struct {
	threshold time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewDetector creates a detector with the given violation threshold.
// A nil now falls back to time.Now.
func NewDetector(threshold time.Duration, logger *zap.Logger, now func() time.Time) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Detector{
		threshold: threshold,
		logger:    logger,
		now:       now,
	}
}

// Detect returns the qualifying violations for one poll cycle.
//
// units carries the configured unit order; snapshot map iteration order is
// randomized in Go, and the output contract is unit order then input list
// order. Units missing from the map are skipped. No deduplication happens
// here: a holder with two stale locks yields two violations, processed
// independently downstream.
func (d *Detector) Detect(ctx context.Context, units []string, snapshots map[string][]LockSnapshot, inCooldown CooldownFunc) []Violation {
	cutoff := d.now().UTC().Add(-d.threshold)

	var violations []Violation
	for _, unit := range units {
		for _, snap := range snapshots[unit] {
			if !snap.Engaged || snap.HolderID == "" {
				continue
			}
			if snap.EngagedAt == "" {
				continue
			}

			engagedAt, err := ParseLockTime(snap.EngagedAt)
			if err != nil {
				d.logger.Warn("skipping snapshot with unparsable timestamp",
					zap.String("unit_id", unit),
					zap.String("lock_id", snap.LockID),
					zap.String("engaged_at", snap.EngagedAt),
					zap.Error(err))
				continue
			}

			if !engagedAt.Before(cutoff) {
				continue
			}

			if inCooldown != nil && inCooldown(ctx, snap.HolderID) {
				d.logger.Debug("holder in cooldown, suppressing violation",
					zap.String("holder_id", snap.HolderID),
					zap.String("lock_id", snap.LockID))
				continue
			}

			violations = append(violations, Violation{
				UnitID:    unit,
				LockID:    snap.LockID,
				HolderID:  snap.HolderID,
				EngagedAt: engagedAt,
			})
		}
	}

	return violations
}

// lockTimeLayouts are tried in order. The source sometimes omits the zone
// entirely; those values are taken as UTC.
var lockTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
}

var lockTimeNaiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseLockTime normalizes a source timestamp to UTC. Accepted forms:
// explicit UTC marker (Z), explicit offset, or no offset at all (treated
// as UTC).
func ParseLockTime(raw string) (time.Time, error) {
	for _, layout := range lockTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range lockTimeNaiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", raw)
}
