package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/fyrsmithlabs/lockwatchd/internal/detect"
	"github.com/fyrsmithlabs/lockwatchd/internal/strike"
)

const instrumentationName = "github.com/fyrsmithlabs/lockwatchd/internal/ledger"

const schema = `
CREATE TABLE IF NOT EXISTS strike_records (
	identity          TEXT PRIMARY KEY,
	strike1_at        INTEGER,
	strike2_at        INTEGER,
	counter           INTEGER NOT NULL DEFAULT 0,
	last_violation_at INTEGER,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
`

// Config configures the SQLite ledger.
type Config struct {
	// Path is the database file location. Parent directories are
	// created as needed.
	Path string

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// service implements Service on SQLite.
type service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	tracer            trace.Tracer
	meter             metric.Meter
	escalationCounter metric.Int64Counter
	decayCounter      metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// New opens (and if necessary creates) the ledger database.
func New(cfg *Config, logger *zap.Logger) (Service, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("ledger path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// SQLite supports one writer at a time; the daemon is a single
	// sequential batch job, so one connection is all we need.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &service{
		db:     db,
		logger: logger,
		now:    now,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.escalationCounter, err = s.meter.Int64Counter(
		"lockwatchd.ledger.escalations_total",
		metric.WithDescription("Total escalations applied, by outcome"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create escalation counter", zap.Error(err))
	}

	s.decayCounter, err = s.meter.Int64Counter(
		"lockwatchd.ledger.decayed_records_total",
		metric.WithDescription("Total records cleared by decay sweeps"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		s.logger.Warn("failed to create decay counter", zap.Error(err))
	}
}

// clock returns the current time in UTC at second precision; that is the
// precision the store round-trips.
func (s *service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("ledger is closed")
	}
	return nil
}

// GetOrCreate returns the record for an identity, inserting a zero-valued
// one when none exists.
func (s *service) GetOrCreate(ctx context.Context, identity string) (*strike.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rec, err := s.Get(ctx, identity)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.clock()
	rec = &strike.Record{
		Identity:  identity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO strike_records (identity, counter, created_at, updated_at) VALUES (?, 0, ?, ?)`,
		identity, now.Unix(), now.Unix(),
	); err != nil {
		return nil, fmt.Errorf("failed to create strike record: %w", err)
	}

	s.logger.Info("created strike record", zap.String("identity", identity))
	return rec, nil
}

// Get returns the record for an identity or ErrNotFound.
func (s *service) Get(ctx context.Context, identity string) (*strike.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT identity, strike1_at, strike2_at, counter, last_violation_at, created_at, updated_at
		 FROM strike_records WHERE identity = ?`, identity)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load strike record: %w", err)
	}
	return rec, nil
}

// IsInCooldown reports whether now minus the last violation is inside the
// cooldown window.
func (s *service) IsInCooldown(ctx context.Context, identity string, window time.Duration) (bool, error) {
	rec, err := s.Get(ctx, identity)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.LastViolationAt == nil {
		return false, nil
	}
	return s.clock().Sub(*rec.LastViolationAt) < window, nil
}

// ApplyEscalation runs the strike engine for one violation inside a
// single transaction.
func (s *service) ApplyEscalation(ctx context.Context, v detect.Violation) (strike.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.apply_escalation")
	defer span.End()
	span.SetAttributes(
		attribute.String("identity", v.HolderID),
		attribute.String("unit_id", v.UnitID),
		attribute.String("lock_id", v.LockID),
	)

	if err := s.checkOpen(); err != nil {
		return strike.Outcome{}, err
	}

	now := s.clock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return strike.Outcome{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT identity, strike1_at, strike2_at, counter, last_violation_at, created_at, updated_at
		 FROM strike_records WHERE identity = ?`, v.HolderID)

	rec, err := scanRecord(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec = &strike.Record{
			Identity:  v.HolderID,
			CreatedAt: now,
			UpdatedAt: now,
		}
	case err != nil:
		span.RecordError(err)
		return strike.Outcome{}, fmt.Errorf("failed to load strike record: %w", err)
	}

	out := strike.Escalate(rec, v.UnitID, v.LockID, now)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO strike_records (identity, strike1_at, strike2_at, counter, last_violation_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET
			strike1_at = excluded.strike1_at,
			strike2_at = excluded.strike2_at,
			counter = excluded.counter,
			last_violation_at = excluded.last_violation_at,
			updated_at = excluded.updated_at`,
		rec.Identity,
		nullUnix(rec.Strike1At), nullUnix(rec.Strike2At),
		rec.Counter,
		nullUnix(rec.LastViolationAt),
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return strike.Outcome{}, fmt.Errorf("failed to persist escalation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return strike.Outcome{}, fmt.Errorf("failed to commit escalation: %w", err)
	}

	if s.escalationCounter != nil {
		s.escalationCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(out.Type)),
		))
	}

	s.logger.Info("applied escalation",
		zap.String("identity", out.Identity),
		zap.String("outcome", string(out.Type)),
		zap.Int("counter", out.Counter),
		zap.String("unit_id", out.UnitID),
		zap.String("lock_id", out.LockID))

	span.SetAttributes(attribute.String("outcome", string(out.Type)))
	return out, nil
}

// DecaySweep clears expired strikes in one transaction.
func (s *service) DecaySweep(ctx context.Context, window time.Duration) (int, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.decay_sweep")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	now := s.clock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT identity, strike1_at, strike2_at, counter, last_violation_at, created_at, updated_at
		 FROM strike_records
		 WHERE strike1_at IS NOT NULL OR strike2_at IS NOT NULL`)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to query records for decay: %w", err)
	}

	var expired []string
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			span.RecordError(err)
			return 0, fmt.Errorf("failed to scan record for decay: %w", err)
		}
		if strike.Decayed(rec, window, now) {
			expired = append(expired, rec.Identity)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		span.RecordError(err)
		return 0, fmt.Errorf("failed to iterate records for decay: %w", err)
	}
	rows.Close()

	for _, identity := range expired {
		if _, err := tx.ExecContext(ctx,
			`UPDATE strike_records SET strike1_at = NULL, strike2_at = NULL, updated_at = ? WHERE identity = ?`,
			now.Unix(), identity,
		); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("failed to decay record %s: %w", identity, err)
		}
		s.logger.Info("cleared decayed strikes", zap.String("identity", identity))
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to commit decay sweep: %w", err)
	}

	if s.decayCounter != nil && len(expired) > 0 {
		s.decayCounter.Add(ctx, int64(len(expired)))
	}

	span.SetAttributes(attribute.Int("cleaned", len(expired)))
	return len(expired), nil
}

// ResetStrikes clears strike 1 and 2 for one identity.
func (s *service) ResetStrikes(ctx context.Context, identity string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE strike_records SET strike1_at = NULL, strike2_at = NULL, updated_at = ? WHERE identity = ?`,
		s.clock().Unix(), identity)
	if err != nil {
		return fmt.Errorf("failed to reset strikes: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reset result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Info("reset strikes", zap.String("identity", identity))
	return nil
}

// ListWithStrikes returns every record carrying strike state or a
// positive counter.
func (s *service) ListWithStrikes(ctx context.Context) ([]*strike.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, strike1_at, strike2_at, counter, last_violation_at, created_at, updated_at
		 FROM strike_records
		 WHERE strike1_at IS NOT NULL OR strike2_at IS NOT NULL OR counter > 0
		 ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("failed to list strike records: %w", err)
	}
	defer rows.Close()

	var records []*strike.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strike record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats summarizes the ledger.
func (s *service) Stats(ctx context.Context) (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	stats := &Stats{}
	weekAgo := s.clock().Add(-7 * 24 * time.Hour).Unix()

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(strike1_at),
			COUNT(strike2_at),
			SUM(CASE WHEN counter > 0 THEN 1 ELSE 0 END),
			COALESCE(MAX(counter), 0),
			SUM(CASE WHEN last_violation_at >= ? THEN 1 ELSE 0 END)
		FROM strike_records`, weekAgo)

	var withCounter, recent sql.NullInt64
	if err := row.Scan(
		&stats.TotalIdentities,
		&stats.WithStrike1,
		&stats.WithStrike2,
		&withCounter,
		&stats.HighestCounter,
		&recent,
	); err != nil {
		return nil, fmt.Errorf("failed to compute ledger stats: %w", err)
	}
	stats.WithCounter = int(withCounter.Int64)
	stats.RecentViolations = int(recent.Int64)

	return stats, nil
}

// CheckIntegrity validates a record against the ledger invariants:
// strike 2 without strike 1 while the counter is 0, strike order, and a
// non-negative counter. Inconsistencies are logged, not repaired.
func (s *service) CheckIntegrity(ctx context.Context, identity string) (bool, error) {
	rec, err := s.Get(ctx, identity)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if rec.Strike2At != nil && rec.Strike1At == nil && rec.Counter == 0 {
		s.logger.Warn("strike 2 set without strike 1",
			zap.String("identity", identity))
		return false, nil
	}
	if rec.Strike1At != nil && rec.Strike2At != nil && rec.Strike1At.After(*rec.Strike2At) {
		s.logger.Warn("strike 1 is newer than strike 2",
			zap.String("identity", identity))
		return false, nil
	}
	if rec.Counter < 0 {
		s.logger.Warn("negative strike counter",
			zap.String("identity", identity))
		return false, nil
	}

	return true, nil
}

// Close closes the database.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*strike.Record, error) {
	var (
		rec                             strike.Record
		strike1, strike2, lastViolation sql.NullInt64
		createdAt, updatedAt            int64
	)

	if err := row.Scan(
		&rec.Identity,
		&strike1, &strike2,
		&rec.Counter,
		&lastViolation,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Strike1At = unixPtr(strike1)
	rec.Strike2At = unixPtr(strike2)
	rec.LastViolationAt = unixPtr(lastViolation)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &rec, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
