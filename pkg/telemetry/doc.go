// Package telemetry provides observability for kiln builds.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an in-process event stream behind one Telemetry
// value.
//
// # Usage
//
// Initialize telemetry at startup and shut it down on exit so buffered
// events and spans are delivered:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = build.Version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// Loggers are scoped by component and enriched with build fields:
//
//	logger := tel.Logger.NewComponentLogger("evaluator")
//	logger.WithBuildID(id).WithProject(":api").Info("Evaluating project")
//
// FromContext returns the logger stored in a context, or a no-op logger.
//
// # Tracing
//
// A build gets a root span and every project evaluation a child span named
// "project.evaluate". Forked JVMs are traced as "fork.launch". Exporters are
// otlp (gRPC), stdout and none. With tracing disabled spans are never
// sampled.
//
// # Metrics
//
// All metrics live on a private registry under the configured namespace:
//
//	kiln_project_evaluations_total{outcome}
//	kiln_project_evaluation_duration_seconds{outcome}
//	kiln_project_evaluations_active
//	kiln_evaluation_listener_failures_total{phase}
//	kiln_fork_launches_total{exit_code}
//	kiln_fork_duration_seconds{project}
//	kiln_policy_violations_total{policy,severity}
//	kiln_errors_total{class}
//
// The registry is served over HTTP only when MetricsConfig.Serve is set.
//
// # Events
//
// EventPublisher emits project.evaluating, project.evaluated,
// project.failed, fork.launched and policy.violation events. Subscribers
// can filter by level, type or project:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// # Evaluation Listener
//
// EvaluationListener plugs into a build's evaluation broadcaster and the
// launcher and feeds every component above:
//
//	listener := telemetry.NewEvaluationListener(ctx, tel, buildID)
//	b.AddProjectEvaluationListener(listener)
//
// It never fails an evaluation. Listener failures reported by the build
// are counted with RecordBuildError.
package telemetry
