package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kilnbuild/kiln/pkg/evaluation"
	"github.com/kilnbuild/kiln/pkg/fork"
)

// forkLister is implemented by projects that expose their forks.
type forkLister interface {
	Snapshots() []fork.Snapshot
}

// HistoryRecorder is an evaluation.Listener that writes every project
// evaluation of one build to a Store. Storage errors are logged and never
// fail the evaluation.
type HistoryRecorder struct {
	ctx    context.Context
	store  Store
	build  *BuildRecord
	logger zerolog.Logger

	mu   sync.Mutex
	open map[string]string // project path -> evaluation ID
}

var _ evaluation.Listener = (*HistoryRecorder)(nil)

// NewHistoryRecorder stores build as a running build and returns a
// recorder for its evaluations. An empty build ID is generated.
func NewHistoryRecorder(ctx context.Context, store Store, build *BuildRecord, logger zerolog.Logger) (*HistoryRecorder, error) {
	if build.ID == "" {
		build.ID = uuid.New().String()
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = time.Now()
	}
	build.Status = StatusRunning

	if err := store.CreateBuild(ctx, build); err != nil {
		return nil, err
	}

	return &HistoryRecorder{
		ctx:    ctx,
		store:  store,
		build:  build,
		logger: logger.With().Str("component", "history").Str("build_id", build.ID).Logger(),
		open:   make(map[string]string),
	}, nil
}

// BuildID returns the ID of the recorded build.
func (r *HistoryRecorder) BuildID() string {
	return r.build.ID
}

// BeforeEvaluate records the start of a project evaluation.
func (r *HistoryRecorder) BeforeEvaluate(project evaluation.Project) error {
	rec := &EvaluationRecord{
		ID:          uuid.New().String(),
		BuildID:     r.build.ID,
		ProjectPath: project.Path(),
		ProjectName: project.Name(),
		Status:      StatusRunning,
		StartedAt:   time.Now(),
	}

	if err := r.store.CreateEvaluation(r.ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("project", project.Path()).Msg("Failed to record evaluation start")
		return nil
	}

	r.mu.Lock()
	r.open[project.Path()] = rec.ID
	r.mu.Unlock()

	return nil
}

// AfterEvaluate records the outcome of a project evaluation together with
// the forks it configured.
func (r *HistoryRecorder) AfterEvaluate(project evaluation.Project, failure error) error {
	r.mu.Lock()
	id, ok := r.open[project.Path()]
	delete(r.open, project.Path())
	r.mu.Unlock()

	if !ok {
		r.logger.Debug().Str("project", project.Path()).Msg("No recorded start for evaluation")
		return nil
	}

	status := StatusSucceeded
	var msg *string
	if failure != nil {
		status = StatusFailed
		s := failure.Error()
		msg = &s
	}

	forks := "[]"
	if fl, ok := project.(forkLister); ok {
		data, err := json.Marshal(fl.Snapshots())
		if err != nil {
			r.logger.Warn().Err(err).Str("project", project.Path()).Msg("Failed to encode forks")
		} else {
			forks = string(data)
		}
	}

	if err := r.store.CompleteEvaluation(r.ctx, id, status, msg, forks); err != nil {
		r.logger.Warn().Err(err).Str("project", project.Path()).Msg("Failed to record evaluation result")
	}

	return nil
}

// Finish records the final status of the build. Evaluations that started
// but never finished are recorded as failed with failure, or with
// evaluation.ErrIncomplete when failure is nil.
func (r *HistoryRecorder) Finish(failure error) error {
	r.closeOpen(failure)

	status := StatusSucceeded
	var msg *string
	if failure != nil {
		status = StatusFailed
		s := failure.Error()
		msg = &s
	}

	if err := r.store.CompleteBuild(r.ctx, r.build.ID, status, msg); err != nil {
		return fmt.Errorf("failed to record build result: %w", err)
	}
	return nil
}

// PropertiesJSON encodes build properties for BuildRecord.Properties.
func PropertiesJSON(props map[string]string) string {
	if len(props) == 0 {
		return "{}"
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (r *HistoryRecorder) closeOpen(failure error) {
	if failure == nil {
		failure = evaluation.ErrIncomplete
	}

	r.mu.Lock()
	open := r.open
	r.open = make(map[string]string)
	r.mu.Unlock()

	msg := failure.Error()
	for path, id := range open {
		if err := r.store.CompleteEvaluation(r.ctx, id, StatusFailed, &msg, "[]"); err != nil {
			r.logger.Warn().Err(err).Str("project", path).Msg("Failed to record evaluation result")
		}
	}
}
