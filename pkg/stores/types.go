package stores

import (
	"context"
	"database/sql"
	"time"
)

// Status is the outcome of a build or of one project evaluation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// BuildRecord represents one kiln invocation.
type BuildRecord struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	RootDir     string     `json:"root_dir" yaml:"root_dir"`
	Version     string     `json:"version" yaml:"version"`
	Status      Status     `json:"status" yaml:"status"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty" yaml:"error,omitempty"`
	Properties  string     `json:"properties" yaml:"properties"` // JSON blob
}

// EvaluationRecord represents the evaluation of one project in a build.
type EvaluationRecord struct {
	ID          string     `json:"id" yaml:"id"`
	BuildID     string     `json:"build_id" yaml:"build_id"`
	ProjectPath string     `json:"project_path" yaml:"project_path"`
	ProjectName string     `json:"project_name" yaml:"project_name"`
	Status      Status     `json:"status" yaml:"status"`
	Failure     *string    `json:"failure,omitempty" yaml:"failure,omitempty"`
	Forks       string     `json:"forks" yaml:"forks"` // JSON array of fork snapshots
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms" yaml:"duration_ms"`
}

// Store defines the interface for the build history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Build operations
	CreateBuild(ctx context.Context, build *BuildRecord) error
	GetBuild(ctx context.Context, id string) (*BuildRecord, error)
	CompleteBuild(ctx context.Context, id string, status Status, errMsg *string) error
	ListBuilds(ctx context.Context, limit, offset int) ([]*BuildRecord, error)
	DeleteBuild(ctx context.Context, id string) error

	// Evaluation operations
	CreateEvaluation(ctx context.Context, eval *EvaluationRecord) error
	GetEvaluation(ctx context.Context, id string) (*EvaluationRecord, error)
	CompleteEvaluation(ctx context.Context, id string, status Status, failure *string, forks string) error
	ListEvaluationsByBuild(ctx context.Context, buildID string) ([]*EvaluationRecord, error)
	ListEvaluationsByProject(ctx context.Context, projectPath string, limit int) ([]*EvaluationRecord, error)
}
