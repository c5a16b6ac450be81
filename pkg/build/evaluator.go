package build

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/kilnbuild/kiln/pkg/config"
)

// Evaluator drives project evaluation: it notifies the build's listeners
// around each project's build script.
type Evaluator struct {
	build   *Build
	scripts *config.ScriptEvaluator
	logger  zerolog.Logger
}

// NewEvaluator creates an evaluator for b. scripts may be nil, in which
// case scripts run with the start parameter's timeout.
func NewEvaluator(b *Build, scripts *config.ScriptEvaluator, logger zerolog.Logger) *Evaluator {
	logger = logger.With().Str("component", "evaluator").Logger()
	if scripts == nil {
		scripts = config.NewScriptEvaluator(b.startParameter.ScriptTimeout, logger)
	}
	return &Evaluator{
		build:   b,
		scripts: scripts,
		logger:  logger,
	}
}

// Evaluate evaluates one project. Each listener phase fires at most once
// per project: a project that already went through evaluation returns
// its recorded failure without notifying anyone again.
//
// A BeforeEvaluate error fails the project without running the script or
// firing AfterEvaluate. Otherwise the script runs and AfterEvaluate
// receives its failure; the returned error joins the script failure with
// any after-listener error.
func (e *Evaluator) Evaluate(ctx context.Context, p *Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !p.advance(StateBeforeFired) {
		e.logger.Debug().Str("project", p.Path()).Str("state", p.State().String()).Msg("Project already evaluated")
		return p.Failure()
	}

	broadcaster := e.build.ProjectEvaluationBroadcaster()
	log := e.logger.With().Str("project", p.Path()).Logger()
	log.Debug().Msg("Evaluating project")

	if err := broadcaster.BeforeEvaluate(p); err != nil {
		failure := NewListenerError(PhaseBefore, err).WithProject(p.Path())
		p.finish(nil, failure)
		log.Error().Err(err).Msg("Before-evaluate listener failed")
		return failure
	}

	result, scriptErr := e.runScript(ctx, p)

	var failure error
	if scriptErr != nil {
		failure = NewEvaluationError("build script failed", scriptErr).
			WithProject(p.Path()).
			WithDetail("script", p.ScriptPath())
	}

	p.advance(StateAfterFired)

	var afterErr error
	if err := broadcaster.AfterEvaluate(p, failure); err != nil {
		afterErr = NewListenerError(PhaseAfter, err).WithProject(p.Path())
		log.Error().Err(err).Msg("After-evaluate listener failed")
	}

	outcome := errors.Join(failure, afterErr)
	p.finish(result, outcome)

	if outcome != nil {
		log.Debug().Err(outcome).Msg("Project evaluation failed")
	} else {
		log.Debug().Int("forks", len(p.ForkNames())).Msg("Project evaluated")
	}
	return outcome
}

// EvaluateAll evaluates every registered project in path order and stops
// at the first failure.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	for _, p := range e.build.ProjectRegistry().Projects() {
		if err := e.Evaluate(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// EvaluatePath evaluates the project at path.
func (e *Evaluator) EvaluatePath(ctx context.Context, path string) (*Project, error) {
	p, err := e.build.Project(path)
	if err != nil {
		return nil, err
	}
	return p, e.Evaluate(ctx, p)
}

// runScript executes the project's build script. A project without a
// script evaluates to nothing.
func (e *Evaluator) runScript(ctx context.Context, p *Project) (*config.ScriptResult, error) {
	if _, err := os.Stat(p.ScriptPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Debug().Str("project", p.Path()).Str("script", p.ScriptPath()).Msg("No build script")
			return nil, nil
		}
		return nil, fmt.Errorf("checking build script: %w", err)
	}

	env := config.ScriptEnv{
		Project: config.ProjectInfo{
			Name: p.Name(),
			Path: p.Path(),
			Dir:  p.Dir(),
		},
		Properties: e.build.Properties(),
		Forks:      p,
	}
	return e.scripts.EvaluateFile(ctx, p.ScriptPath(), env)
}
