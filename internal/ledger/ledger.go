package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/lockwatchd/internal/detect"
	"github.com/fyrsmithlabs/lockwatchd/internal/strike"
)

// ErrNotFound is returned when no record exists for an identity.
var ErrNotFound = errors.New("strike record not found")

// Service provides transactional access to the strike ledger.
type Service interface {
	// GetOrCreate returns the record for an identity, creating a
	// zero-valued one when none exists yet.
	GetOrCreate(ctx context.Context, identity string) (*strike.Record, error)

	// Get returns the record for an identity or ErrNotFound.
	Get(ctx context.Context, identity string) (*strike.Record, error)

	// IsInCooldown reports whether the identity's last processed
	// violation falls inside the cooldown window. No record, or a
	// record without a last violation, means no cooldown.
	IsInCooldown(ctx context.Context, identity string, window time.Duration) (bool, error)

	// ApplyEscalation runs the strike engine for one violation in a
	// single transaction: read (or create), transition, touch
	// bookkeeping timestamps, commit. On failure the record is left
	// unchanged and the error is recoverable.
	ApplyEscalation(ctx context.Context, v detect.Violation) (strike.Outcome, error)

	// DecaySweep clears strike 1 and 2 together on every record whose
	// newest strike is older than the decay window. Counters are never
	// touched. Idempotent: a second immediate sweep cleans nothing.
	DecaySweep(ctx context.Context, window time.Duration) (int, error)

	// ResetStrikes is the administrative clear of strike 1 and 2 for
	// one identity. The counter survives.
	ResetStrikes(ctx context.Context, identity string) error

	// ListWithStrikes returns records carrying any strike or a
	// positive counter.
	ListWithStrikes(ctx context.Context) ([]*strike.Record, error)

	// Stats summarizes the ledger for operators.
	Stats(ctx context.Context) (*Stats, error)

	// CheckIntegrity validates a record's invariants. True for a
	// missing record (no record, no inconsistency).
	CheckIntegrity(ctx context.Context, identity string) (bool, error)

	// Close closes the underlying database.
	Close() error
}

// Stats is a point-in-time summary of the ledger.
type Stats struct {
	TotalIdentities  int
	WithStrike1      int
	WithStrike2      int
	WithCounter      int
	HighestCounter   int
	RecentViolations int // violations processed in the last 7 days
}
