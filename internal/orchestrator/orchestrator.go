package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lockwatchd/internal/detect"
	"github.com/fyrsmithlabs/lockwatchd/internal/directory"
	"github.com/fyrsmithlabs/lockwatchd/internal/ledger"
	"github.com/fyrsmithlabs/lockwatchd/internal/strike"
)

const instrumentationName = "github.com/fyrsmithlabs/lockwatchd/internal/orchestrator"

// LockService is the slice of the lock-cloud client a cycle needs.
type LockService interface {
	FetchSnapshots(ctx context.Context, units []string) (map[string][]detect.LockSnapshot, error)
	RevokeCredential(ctx context.Context, cardUID string) error
}

// Directory resolves and removes identities.
type Directory interface {
	Lookup(cardUID string) (*directory.Member, error)
	Remove(cardUID string) error
}

// Notifier delivers the mail for an escalation outcome.
type Notifier interface {
	NotifyOutcome(ctx context.Context, member *directory.Member, out strike.Outcome) error
}

// Config configures the orchestrator.
type Config struct {
	// Units are the organizational units polled each cycle, in order.
	Units []string

	// ViolationThreshold is how long a lock may stay engaged before it
	// counts as a violation.
	ViolationThreshold time.Duration

	// CooldownWindow suppresses repeat escalation for an identity that
	// was already escalated recently.
	CooldownWindow time.Duration

	// DecayWindow is the age past which strikes 1 and 2 expire.
	DecayWindow time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	CycleID  string
	Started  time.Time
	Duration time.Duration

	ViolationsFound     int
	ViolationsProcessed int
	Skipped             int
	RecordsDecayed      int

	// Errors are per-violation failures. The cycle itself still
	// completed.
	Errors []string
}

// Orchestrator wires detector, ledger, and adapters into cycles.
type Orchestrator struct {
	cfg      Config
	locks    LockService
	dir      Directory
	notifier Notifier
	led      ledger.Service
	detector *detect.Detector
	logger   *zap.Logger
	now      func() time.Time

	tracer            trace.Tracer
	violationsCounter metric.Int64Counter
	revocationCounter metric.Int64Counter
}

// New builds an orchestrator.
func New(cfg Config, locks LockService, dir Directory, notifier Notifier, led ledger.Service, logger *zap.Logger) (*Orchestrator, error) {
	if len(cfg.Units) == 0 {
		return nil, errors.New("at least one monitored unit is required")
	}
	if cfg.ViolationThreshold <= 0 {
		return nil, errors.New("violation threshold must be positive")
	}
	if locks == nil || dir == nil || notifier == nil || led == nil {
		return nil, errors.New("all services are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	meter := otel.Meter(instrumentationName)
	violations, err := meter.Int64Counter("lockwatch.violations",
		metric.WithDescription("Violations processed, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create violations counter: %w", err)
	}
	revocations, err := meter.Int64Counter("lockwatch.revocations",
		metric.WithDescription("Credential revocations attempted"))
	if err != nil {
		return nil, fmt.Errorf("failed to create revocations counter: %w", err)
	}

	return &Orchestrator{
		cfg:               cfg,
		locks:             locks,
		dir:               dir,
		notifier:          notifier,
		led:               led,
		detector:          detect.NewDetector(cfg.ViolationThreshold, logger, now),
		logger:            logger,
		now:               now,
		tracer:            otel.Tracer(instrumentationName),
		violationsCounter: violations,
		revocationCounter: revocations,
	}, nil
}

// RunCycle executes one full reconciliation cycle. The returned error
// covers cycle-level failures only (no lock data at all); per-violation
// failures land in the report.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{
		CycleID: uuid.NewString(),
		Started: o.now(),
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.RunCycle",
		trace.WithAttributes(attribute.String("cycle.id", report.CycleID)))
	defer span.End()

	logger := o.logger.With(zap.String("cycle_id", report.CycleID))
	logger.Info("starting reconciliation cycle", zap.Strings("units", o.cfg.Units))

	snapshots, err := o.locks.FetchSnapshots(ctx, o.cfg.Units)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("failed to fetch lock snapshots: %w", err)
	}

	violations := o.detector.Detect(ctx, o.cfg.Units, snapshots, o.inCooldown)
	report.ViolationsFound = len(violations)

	for _, v := range violations {
		o.processViolation(ctx, logger, v, report)
	}

	// Aged strikes expire at the end of every cycle; the weekly sweep
	// only covers quiet periods. Best effort, the sweep is idempotent.
	if o.cfg.DecayWindow > 0 {
		cleaned, err := o.led.DecaySweep(ctx, o.cfg.DecayWindow)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("decay sweep: %v", err))
			logger.Error("decay sweep failed", zap.Error(err))
		} else {
			report.RecordsDecayed = cleaned
		}
	}

	report.Duration = o.now().Sub(report.Started)
	logger.Info("reconciliation cycle complete",
		zap.Int("violations_found", report.ViolationsFound),
		zap.Int("violations_processed", report.ViolationsProcessed),
		zap.Int("skipped", report.Skipped),
		zap.Int("records_decayed", report.RecordsDecayed),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// inCooldown adapts the ledger for the detector. A failed lookup counts
// as not in cooldown so the violation is surfaced rather than silently
// dropped.
func (o *Orchestrator) inCooldown(ctx context.Context, identity string) bool {
	in, err := o.led.IsInCooldown(ctx, identity, o.cfg.CooldownWindow)
	if err != nil {
		o.logger.Error("cooldown check failed",
			zap.String("identity", identity),
			zap.Error(err))
		return false
	}
	return in
}

// processViolation handles one violation end to end. Failures are
// appended to the report and never propagate.
func (o *Orchestrator) processViolation(ctx context.Context, logger *zap.Logger, v detect.Violation, report *CycleReport) {
	logger = logger.With(
		zap.String("identity", v.HolderID),
		zap.String("unit_id", v.UnitID),
		zap.String("lock_id", v.LockID))

	member, err := o.dir.Lookup(v.HolderID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			logger.Warn("identity not in directory, skipping violation")
			report.Skipped++
			return
		}
		report.Errors = append(report.Errors, fmt.Sprintf("%s: directory lookup: %v", v.HolderID, err))
		logger.Error("directory lookup failed", zap.Error(err))
		return
	}

	out, err := o.led.ApplyEscalation(ctx, v)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: escalation: %v", v.HolderID, err))
		logger.Error("escalation failed", zap.Error(err))
		return
	}
	report.ViolationsProcessed++
	o.violationsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(out.Type))))
	logger.Info("escalation applied",
		zap.String("outcome", string(out.Type)),
		zap.Int("counter", out.Counter))

	// From here the strike is committed; everything below is best
	// effort.
	if err := o.notifier.NotifyOutcome(ctx, member, out); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: notify: %v", v.HolderID, err))
		logger.Error("notification failed", zap.Error(err))
	}

	if out.Type.Revokes() {
		o.revoke(ctx, logger, v.HolderID, report)
	}
}

// revoke removes the credential from the lock service and the identity
// from the directory. Each step is independent.
func (o *Orchestrator) revoke(ctx context.Context, logger *zap.Logger, cardUID string, report *CycleReport) {
	o.revocationCounter.Add(ctx, 1)

	if err := o.locks.RevokeCredential(ctx, cardUID); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: revoke: %v", cardUID, err))
		logger.Error("credential revocation failed", zap.Error(err))
	} else {
		logger.Info("credential revoked")
	}

	if err := o.dir.Remove(cardUID); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: directory removal: %v", cardUID, err))
		logger.Error("directory removal failed", zap.Error(err))
	} else {
		logger.Info("identity removed from directory")
	}
}

// RunDecaySweep expires aged strikes.
func (o *Orchestrator) RunDecaySweep(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.RunDecaySweep")
	defer span.End()

	cleaned, err := o.led.DecaySweep(ctx, o.cfg.DecayWindow)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("decay sweep failed: %w", err)
	}
	o.logger.Info("decay sweep complete", zap.Int("records_cleaned", cleaned))
	return cleaned, nil
}
