package telemetry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/kilnbuild/kiln/pkg/build"
	"github.com/kilnbuild/kiln/pkg/evaluation"
	"github.com/kilnbuild/kiln/pkg/launcher"
	"github.com/kilnbuild/kiln/pkg/policy"
)

// EvaluationListener reports project evaluations and fork launches to
// every telemetry component: a span and metrics per evaluation, and one
// event per lifecycle step. It never fails an evaluation.
type EvaluationListener struct {
	ctx     context.Context
	t       *Telemetry
	logger  *Logger
	buildID string

	mu       sync.Mutex
	inflight map[string]*inflightEvaluation
}

type inflightEvaluation struct {
	span  trace.Span
	timer *Timer
}

var (
	_ evaluation.Listener = (*EvaluationListener)(nil)
	_ launcher.Observer   = (*EvaluationListener)(nil)
)

// NewEvaluationListener creates a listener for one build. Evaluation spans
// are children of the span in ctx, if any.
func NewEvaluationListener(ctx context.Context, t *Telemetry, buildID string) *EvaluationListener {
	return &EvaluationListener{
		ctx:      ctx,
		t:        t,
		logger:   t.Logger.NewComponentLogger("telemetry").WithBuildID(buildID),
		buildID:  buildID,
		inflight: make(map[string]*inflightEvaluation),
	}
}

// BeforeEvaluate starts the evaluation span and timer.
func (l *EvaluationListener) BeforeEvaluate(project evaluation.Project) error {
	_, span := l.t.Tracer.StartEvaluationSpan(l.ctx, project.Path(), project.Name())

	l.mu.Lock()
	l.inflight[project.Path()] = &inflightEvaluation{span: span, timer: NewTimer()}
	l.mu.Unlock()

	l.t.Metrics.EvaluationStarted()
	l.publish(l.t.Events.PublishProjectEvaluating(l.buildID, project.Path()))

	return nil
}

// AfterEvaluate ends the evaluation span and records the outcome.
func (l *EvaluationListener) AfterEvaluate(project evaluation.Project, failure error) error {
	l.mu.Lock()
	in, ok := l.inflight[project.Path()]
	delete(l.inflight, project.Path())
	l.mu.Unlock()

	if !ok {
		l.logger.WithProject(project.Path()).Debug("Evaluation finished without a recorded start")
		return nil
	}

	if failure != nil {
		l.finishFailed(project.Path(), in, failure)
		return nil
	}

	duration := in.timer.Duration()
	logger := l.logger.WithProject(project.Path()).WithField("duration", duration.String())

	forks := 0
	if fl, ok := project.(interface{ ForkNames() []string }); ok {
		forks = len(fl.ForkNames())
	}

	RecordSuccess(in.span)
	in.span.End()
	l.t.Metrics.RecordEvaluation(OutcomeSucceeded, duration)
	l.publish(l.t.Events.PublishProjectEvaluated(l.buildID, project.Path(), forks, duration))
	logger.WithField("forks", forks).Debug("Project evaluated")

	return nil
}

// Close ends the evaluations that started but never finished and records
// them as failed with failure, or with evaluation.ErrIncomplete when
// failure is nil.
func (l *EvaluationListener) Close(failure error) {
	if failure == nil {
		failure = evaluation.ErrIncomplete
	}

	l.mu.Lock()
	open := l.inflight
	l.inflight = make(map[string]*inflightEvaluation)
	l.mu.Unlock()

	paths := make([]string, 0, len(open))
	for path := range open {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		l.finishFailed(path, open[path], failure)
	}
}

func (l *EvaluationListener) finishFailed(path string, in *inflightEvaluation, failure error) {
	duration := in.timer.Duration()

	RecordError(in.span, failure)
	in.span.End()
	l.t.Metrics.RecordEvaluation(OutcomeFailed, duration)
	l.publish(l.t.Events.PublishProjectFailed(l.buildID, path, failure.Error(), duration))
	l.logger.WithProject(path).WithField("duration", duration.String()).WithError(failure).Warn("Project evaluation failed")
}

// ForkLaunched records a finished fork.
func (l *EvaluationListener) ForkLaunched(ctx context.Context, result *launcher.Result) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(AttrExitCode.Int(result.ExitCode))
	}

	l.t.Metrics.RecordForkLaunch(result.Project, result.ExitCode, result.Duration)
	l.publish(l.t.Events.PublishForkLaunched(l.buildID, result.Project, result.Fork, result.ExitCode, result.Duration))
}

// RecordPolicyResult records the violations of a policy check.
func (l *EvaluationListener) RecordPolicyResult(result *policy.Result) {
	if result == nil {
		return
	}
	for _, v := range result.Violations {
		l.t.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		l.publish(l.t.Events.PublishPolicyViolation(l.buildID, v.Project, v.Fork, v.Policy, v.Message))
	}
	for _, v := range result.Warnings {
		l.t.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
	}
}

// RecordBuildError counts every classified failure in err, including
// listener failures that never reach AfterEvaluate.
func (l *EvaluationListener) RecordBuildError(err error) {
	for _, be := range buildErrors(err) {
		l.t.Metrics.RecordError(string(be.Class))
		if be.Class == build.ErrorClassListener {
			l.t.Metrics.RecordListenerFailure(be.Phase)
		}
	}
}

func (l *EvaluationListener) publish(err error) {
	if err != nil {
		l.logger.WithError(err).Debug("Event not published")
	}
}

// buildErrors collects the BuildErrors in an error tree.
func buildErrors(err error) []*build.BuildError {
	if err == nil {
		return nil
	}

	var out []*build.BuildError
	if be, ok := err.(*build.BuildError); ok {
		out = append(out, be)
	}

	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			out = append(out, buildErrors(e)...)
		}
	default:
		if inner := errors.Unwrap(err); inner != nil {
			out = append(out, buildErrors(inner)...)
		}
	}
	return out
}
