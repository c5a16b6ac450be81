package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: gets its own database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.cfg.Path
}

// Init opens the database, creating its directory if needed, and enables
// WAL mode and foreign keys.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
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

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

const buildColumns = `id, name, root_dir, version, status, started_at, completed_at, error, properties`

// CreateBuild creates a new build record
func (s *SQLiteStore) CreateBuild(ctx context.Context, build *BuildRecord) error {
	if build.Properties == "" {
		build.Properties = "{}"
	}

	query := `INSERT INTO builds (` + buildColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		build.ID,
		build.Name,
		build.RootDir,
		build.Version,
		build.Status,
		build.StartedAt,
		build.CompletedAt,
		build.Error,
		build.Properties,
	)
	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}

	return nil
}

// GetBuild retrieves a build by ID
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*BuildRecord, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = ?`

	build, err := scanBuild(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}

	return build, nil
}

// CompleteBuild records the final status of a build
func (s *SQLiteStore) CompleteBuild(ctx context.Context, id string, status Status, errMsg *string) error {
	query := `UPDATE builds SET status = ?, error = ?, completed_at = ? WHERE id = ?`

	var completedAt *time.Time
	if status.Finished() {
		now := time.Now()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to complete build: %w", err)
	}

	return expectOneRow(result, "build", id)
}

// ListBuilds lists builds, newest first
func (s *SQLiteStore) ListBuilds(ctx context.Context, limit, offset int) ([]*BuildRecord, error) {
	query := `SELECT ` + buildColumns + ` FROM builds ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	builds := []*BuildRecord{}
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, build)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	return builds, nil
}

// DeleteBuild deletes a build and its evaluations
func (s *SQLiteStore) DeleteBuild(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete build: %w", err)
	}

	return expectOneRow(result, "build", id)
}

const evaluationColumns = `id, build_id, project_path, project_name, status, failure, forks, started_at, completed_at, duration_ms`

// CreateEvaluation creates a new project evaluation record
func (s *SQLiteStore) CreateEvaluation(ctx context.Context, eval *EvaluationRecord) error {
	if eval.Forks == "" {
		eval.Forks = "[]"
	}

	query := `INSERT INTO project_evaluations (` + evaluationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		eval.ID,
		eval.BuildID,
		eval.ProjectPath,
		eval.ProjectName,
		eval.Status,
		eval.Failure,
		eval.Forks,
		eval.StartedAt,
		eval.CompletedAt,
		eval.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to create evaluation: %w", err)
	}

	return nil
}

// GetEvaluation retrieves a project evaluation by ID
func (s *SQLiteStore) GetEvaluation(ctx context.Context, id string) (*EvaluationRecord, error) {
	query := `SELECT ` + evaluationColumns + ` FROM project_evaluations WHERE id = ?`

	eval, err := scanEvaluation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}

	return eval, nil
}

// CompleteEvaluation records the outcome of a project evaluation. The
// duration is measured from the recorded start time.
func (s *SQLiteStore) CompleteEvaluation(ctx context.Context, id string, status Status, failure *string, forks string) error {
	if forks == "" {
		forks = "[]"
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var startedAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT started_at FROM project_evaluations WHERE id = ?`, id).Scan(&startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read evaluation: %w", err)
	}

	now := time.Now()
	query := `
		UPDATE project_evaluations
		SET status = ?, failure = ?, forks = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, query, status, failure, forks, now, now.Sub(startedAt).Milliseconds(), id); err != nil {
		return fmt.Errorf("failed to complete evaluation: %w", err)
	}

	return tx.Commit()
}

// ListEvaluationsByBuild lists the evaluations of a build in start order
func (s *SQLiteStore) ListEvaluationsByBuild(ctx context.Context, buildID string) ([]*EvaluationRecord, error) {
	query := `SELECT ` + evaluationColumns + ` FROM project_evaluations WHERE build_id = ? ORDER BY started_at ASC, project_path ASC`
	return s.queryEvaluations(ctx, query, buildID)
}

// ListEvaluationsByProject lists the most recent evaluations of a project
func (s *SQLiteStore) ListEvaluationsByProject(ctx context.Context, projectPath string, limit int) ([]*EvaluationRecord, error) {
	query := `SELECT ` + evaluationColumns + ` FROM project_evaluations WHERE project_path = ? ORDER BY started_at DESC LIMIT ?`
	return s.queryEvaluations(ctx, query, projectPath, limit)
}

func (s *SQLiteStore) queryEvaluations(ctx context.Context, query string, args ...any) ([]*EvaluationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	evals := []*EvaluationRecord{}
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, eval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}

	return evals, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*BuildRecord, error) {
	build := &BuildRecord{}
	err := row.Scan(
		&build.ID,
		&build.Name,
		&build.RootDir,
		&build.Version,
		&build.Status,
		&build.StartedAt,
		&build.CompletedAt,
		&build.Error,
		&build.Properties,
	)
	if err != nil {
		return nil, err
	}
	return build, nil
}

func scanEvaluation(row scanner) (*EvaluationRecord, error) {
	eval := &EvaluationRecord{}
	err := row.Scan(
		&eval.ID,
		&eval.BuildID,
		&eval.ProjectPath,
		&eval.ProjectName,
		&eval.Status,
		&eval.Failure,
		&eval.Forks,
		&eval.StartedAt,
		&eval.CompletedAt,
		&eval.DurationMS,
	)
	if err != nil {
		return nil, err
	}
	return eval, nil
}

func expectOneRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
