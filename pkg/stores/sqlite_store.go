package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/farmops/pondsync/pkg/ponds"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit caps list queries when no limit is given.
const DefaultListLimit = 50

// SQLiteStore implements ponds.Journal using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ ponds.Journal = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" json:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own empty database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database answers.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// AppendOperation records one pond operation.
func (s *SQLiteStore) AppendOperation(ctx context.Context, rec ponds.OperationRecord) error {
	query := `
		INSERT INTO operations (id, kind, pond_name, point_id, status, detail, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Kind,
		rec.PondName,
		rec.PointID,
		rec.Status,
		rec.Detail,
		rec.Error,
		rec.StartedAt.UnixNano(),
		rec.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}

	return nil
}

// ListOperations returns the most recent operations, newest first. A
// non-empty pond restricts the list to that pond.
func (s *SQLiteStore) ListOperations(ctx context.Context, pond string, limit int) ([]ponds.OperationRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, kind, pond_name, point_id, status, detail, error, started_at, completed_at
		FROM operations
		WHERE (? = '' OR pond_name = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, pond, pond, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	ops := []ponds.OperationRecord{}
	for rows.Next() {
		var (
			rec                ponds.OperationRecord
			started, completed int64
		)
		err := rows.Scan(
			&rec.ID,
			&rec.Kind,
			&rec.PondName,
			&rec.PointID,
			&rec.Status,
			&rec.Detail,
			&rec.Error,
			&started,
			&completed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		rec.StartedAt = fromNanos(started)
		rec.CompletedAt = fromNanos(completed)
		ops = append(ops, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}

	return ops, nil
}

// SaveSweepRun records one sweep pass. Saving a run id twice replaces it.
func (s *SQLiteStore) SaveSweepRun(ctx context.Context, run ponds.SweepRecord) error {
	query := `
		INSERT INTO sweep_runs (id, run_trigger, status, ponds_scanned, created, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			ponds_scanned = excluded.ponds_scanned,
			created = excluded.created,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Trigger,
		run.Status,
		run.PondsScanned,
		run.Created,
		run.Failed,
		run.Error,
		run.StartedAt.UnixNano(),
		run.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save sweep run: %w", err)
	}

	return nil
}

// ListSweepRuns returns the most recent sweep passes, newest first.
func (s *SQLiteStore) ListSweepRuns(ctx context.Context, limit int) ([]ponds.SweepRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, run_trigger, status, ponds_scanned, created, failed, error, started_at, completed_at
		FROM sweep_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep runs: %w", err)
	}
	defer rows.Close()

	runs := []ponds.SweepRecord{}
	for rows.Next() {
		var (
			run                ponds.SweepRecord
			started, completed int64
		)
		err := rows.Scan(
			&run.ID,
			&run.Trigger,
			&run.Status,
			&run.PondsScanned,
			&run.Created,
			&run.Failed,
			&run.Error,
			&started,
			&completed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sweep run: %w", err)
		}
		run.StartedAt = fromNanos(started)
		run.CompletedAt = fromNanos(completed)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sweep runs: %w", err)
	}

	return runs, nil
}

// GetSweepRun returns one sweep pass by id.
func (s *SQLiteStore) GetSweepRun(ctx context.Context, id string) (*ponds.SweepRecord, error) {
	query := `
		SELECT id, run_trigger, status, ponds_scanned, created, failed, error, started_at, completed_at
		FROM sweep_runs
		WHERE id = ?
	`

	var (
		run                ponds.SweepRecord
		started, completed int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Trigger,
		&run.Status,
		&run.PondsScanned,
		&run.Created,
		&run.Failed,
		&run.Error,
		&started,
		&completed,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sweep run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sweep run: %w", err)
	}

	run.StartedAt = fromNanos(started)
	run.CompletedAt = fromNanos(completed)
	return &run, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
