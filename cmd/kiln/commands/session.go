package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kilnbuild/kiln/pkg/build"
	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/fork"
	"github.com/kilnbuild/kiln/pkg/policy"
	"github.com/kilnbuild/kiln/pkg/stores"
	"github.com/kilnbuild/kiln/pkg/telemetry"
)

// shutdownTimeout bounds telemetry flushing when a command ends.
const shutdownTimeout = 5 * time.Second

// policyReloadDelay debounces policy file changes in watch mode.
var policyReloadDelay = policy.DefaultReloadDelay

// session is one loaded build with its listeners attached.
type session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	build     *build.Build
	tel       *telemetry.Telemetry
	listener  *telemetry.EvaluationListener
	recorder  *stores.HistoryRecorder
	store     *stores.SQLiteStore
	evaluator *build.Evaluator
	span      trace.Span
	buildID   string
	eventsOut io.Closer
}

// openSession loads the build in dir and wires telemetry and, when
// enabled in the settings, the evaluation history.
func openSession(ctx context.Context, opts *globalOptions, dir string) (*session, error) {
	sp, err := newStartParameter(opts, dir)
	if err != nil {
		return nil, err
	}

	b, err := build.Load(ctx, sp, config.NewSettingsLoader())
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(opts, b.Settings()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s := &session{
		build:   b,
		tel:     tel,
		buildID: uuid.New().String(),
	}

	if err := s.subscribeEvents(opts.events); err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	if b.Settings().History.Enabled {
		if err := s.openHistory(ctx); err != nil {
			// History is best effort
			log.Warn().Err(err).Msg("Evaluation history disabled")
		}
	}

	ctx, s.cancel = context.WithCancel(tel.WithContext(ctx))
	s.ctx, s.span = tel.Tracer.StartBuildSpan(ctx, s.buildID, b.Settings().Build.Name)

	s.listener = telemetry.NewEvaluationListener(s.ctx, tel, s.buildID)
	b.AddProjectEvaluationListener(s.listener)
	if s.recorder != nil {
		b.AddProjectEvaluationListener(s.recorder)
	}

	logger := tel.Logger.NewComponentLogger("build").WithBuildID(s.buildID)
	s.evaluator = build.NewEvaluator(b, nil, logger.Zerolog())

	if err := tel.StartMetricsServer(s.ctx); err != nil {
		log.Warn().Err(err).Msg("Metrics server not started")
	}

	logger.WithField("root_dir", b.RootDir()).Debugf("Build loaded with %d project(s)", b.ProjectRegistry().Len())
	return s, nil
}

// subscribeEvents writes the selected build events to the --events target.
func (s *session) subscribeEvents(eo eventOptions) error {
	if eo.target == "" {
		return nil
	}
	switch eo.level {
	case telemetry.EventLevelInfo, telemetry.EventLevelWarning, telemetry.EventLevelError:
	default:
		return fmt.Errorf("invalid --events-level %q (info, warning, error)", eo.level)
	}

	var w io.Writer = os.Stderr
	if eo.target != "-" {
		f, err := os.OpenFile(eo.target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open events file: %w", err)
		}
		w = f
		s.eventsOut = f
	}

	events := s.tel.Events
	events.AddFilter(telemetry.FilterByLevel(eo.level))
	if len(eo.types) > 0 {
		events.AddFilter(telemetry.FilterByType(eo.types...))
	}
	if eo.project != "" {
		events.AddFilter(telemetry.FilterByProject(eo.project))
	}
	events.Subscribe(telemetry.JSONLinesSubscriber(w), nil)
	return nil
}

// openHistory opens the history database and starts recording the build.
func (s *session) openHistory(ctx context.Context) error {
	path := historyPath(s.build.RootDir(), s.build.Settings())

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return err
	}

	recorder, err := stores.NewHistoryRecorder(ctx, store, &stores.BuildRecord{
		Name:       s.build.Settings().Build.Name,
		RootDir:    s.build.RootDir(),
		Version:    build.Version,
		Properties: stores.PropertiesJSON(s.build.Properties()),
	}, s.tel.Logger.Zerolog())
	if err != nil {
		store.Close()
		return err
	}

	s.store = store
	s.recorder = recorder
	s.buildID = recorder.BuildID()
	return nil
}

// evaluate evaluates every project in path order. With keepGoing the
// remaining projects are evaluated after a failure and all failures are
// returned.
func (s *session) evaluate(keepGoing bool) error {
	if !keepGoing {
		return s.evaluator.EvaluateAll(s.ctx)
	}

	var errs []error
	for _, p := range s.build.ProjectRegistry().Projects() {
		if err := s.ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := s.evaluator.Evaluate(s.ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// policySelection is the --enable/--disable policy flags of a command.
type policySelection struct {
	enable  []string
	disable []string
}

func (ps *policySelection) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&ps.enable, "enable", nil, "enable a policy that is disabled by default")
	cmd.Flags().StringSliceVar(&ps.disable, "disable", nil, "skip a policy")
}

// apply enables and then disables the selected policies.
func (ps *policySelection) apply(engine *policy.Engine) error {
	for _, name := range ps.enable {
		if err := engine.EnablePolicy(name); err != nil {
			return err
		}
	}
	for _, name := range ps.disable {
		if err := engine.DisablePolicy(name); err != nil {
			return err
		}
	}
	return nil
}

// policyEngine creates a policy engine with the built-in policies and the
// policies named in the settings, with sel applied.
func (s *session) policyEngine(sel *policySelection) (engine *policy.Engine, err error) {
	paths := s.policyPaths()
	op := telemetry.StartOperation(s.ctx, "policy.load", attribute.Int("kiln.policy.paths", len(paths)))
	defer func() { op.End(err) }()

	engine, err = policy.NewEngine(s.tel.Logger.Zerolog())
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(op.Ctx, paths); err != nil {
			return nil, err
		}
	}
	if err := sel.apply(engine); err != nil {
		return nil, err
	}
	return engine, nil
}

// watchPolicies creates a policy engine that follows the policy files of
// the settings until the session ends. sel is applied again after every
// reload, then reloaded is signalled.
func (s *session) watchPolicies(sel *policySelection, reloaded chan<- struct{}) (*policy.Engine, *policy.Loader, error) {
	paths := s.policyPaths()
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no policy paths configured in the settings")
	}

	engine, err := policy.NewEngine(s.tel.Logger.Zerolog())
	if err != nil {
		return nil, nil, err
	}

	logger := s.tel.Logger.NewComponentLogger("policy")
	loader, err := engine.WatchPolicies(s.ctx, paths, policyReloadDelay, func() {
		if err := sel.apply(engine); err != nil {
			logger.WithError(err).Warn("Policy selection not applied after reload")
		}
		logger.Infof("Policies reloaded, %d active", len(engine.ListPolicies()))
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, nil, err
	}
	if err := sel.apply(engine); err != nil {
		_ = loader.StopWatching()
		return nil, nil, err
	}
	return engine, loader, nil
}

// forkSnapshots returns the forks of every project in path order.
func (s *session) forkSnapshots() []fork.Snapshot {
	var snapshots []fork.Snapshot
	for _, p := range s.build.ProjectRegistry().Projects() {
		snapshots = append(snapshots, p.Snapshots()...)
	}
	return snapshots
}

func (s *session) policyPaths() []string {
	paths := make([]string, 0, len(s.build.Settings().Policies))
	for _, p := range s.build.Settings().Policies {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.build.RootDir(), p)
		}
		paths = append(paths, p)
	}
	return paths
}

// close finishes the build record and flushes telemetry. failure is the
// command's evaluation outcome.
func (s *session) close(failure error) {
	s.listener.Close(failure)
	s.listener.RecordBuildError(failure)

	if s.recorder != nil {
		if err := s.recorder.Finish(failure); err != nil {
			log.Warn().Err(err).Msg("Failed to record build result")
		}
	}
	if s.store != nil {
		s.store.Close()
	}

	telemetry.RecordError(s.span, failure)
	if failure == nil {
		telemetry.RecordSuccess(s.span)
	}
	s.span.End()
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.tel.Shutdown(ctx); err != nil {
		log.Debug().Err(err).Msg("Telemetry shutdown incomplete")
	}
	if s.eventsOut != nil {
		s.eventsOut.Close()
	}
}

// newStartParameter builds the start parameter for dir from the global
// flags.
func newStartParameter(opts *globalOptions, dir string) (*build.StartParameter, error) {
	sp := build.NewStartParameter()
	sp.BuildDir = dir
	sp.SettingsFile = opts.settingsFile

	props, err := parseProperties(opts.properties)
	if err != nil {
		return nil, err
	}
	sp.Properties = props
	return sp, nil
}

// parseProperties parses -P key=value flags.
func parseProperties(values []string) (map[string]string, error) {
	props := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q: expected key=value", v)
		}
		props[key] = value
	}
	return props, nil
}

// telemetryConfig derives the telemetry configuration from flags and
// settings. Flags win over settings.
func telemetryConfig(opts *globalOptions, settings *config.Settings) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = build.Version
	cfg.Logging.Writer = os.Stderr

	if settings != nil {
		if settings.Logging.Level != "" {
			cfg.Logging.Level = settings.Logging.Level
		}
		if settings.Logging.Format != "" {
			cfg.Logging.Format = settings.Logging.Format
		}
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		cfg.Logging.Level = telemetry.ParseLevel(env).String()
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = telemetry.ParseLevel(opts.logLevel).String()
	}

	switch opts.traceExport {
	case "stdout":
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "stdout"
		cfg.Tracing.Writer = os.Stderr
	case "otlp":
		ci := telemetry.CIConfig()
		cfg.Tracing = ci.Tracing
		if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
			cfg.Tracing.Endpoint = endpoint
		}
	}

	if opts.metricsAddr != "" {
		cfg.Metrics.Serve = true
		cfg.Metrics.ListenAddress = opts.metricsAddr
	}

	return cfg
}

// historyPath resolves the history database location.
func historyPath(rootDir string, settings *config.Settings) string {
	path := config.DefaultHistoryPath
	if settings != nil && settings.History.Path != "" {
		path = settings.History.Path
	}
	if path == stores.MemoryPath || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}
