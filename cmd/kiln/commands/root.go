package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/build"
	"github.com/kilnbuild/kiln/pkg/telemetry"
)

// globalOptions holds the flags shared by every command.
type globalOptions struct {
	settingsFile string
	properties   []string
	logLevel     string
	jsonOutput   bool
	traceExport  string
	metricsAddr  string
	events       eventOptions
}

// eventOptions selects the build events written by --events.
type eventOptions struct {
	target  string
	level   string
	types   []string
	project string
}

// ExitError makes the process exit with Code without logging an error,
// for example to pass through the exit code of a forked JVM.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	build.Version = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "kiln",
		Short: "kiln - JVM build configuration",
		Long: `kiln evaluates multi-project builds and the JVM forks they configure.

A build directory holds a settings.cue file listing the projects of the
build. Each project has a Starlark build script (build.star) that
configures named JVM forks: system properties, heap sizes and extra
JVM arguments. kiln evaluates the scripts, checks the forks against
Rego policies and launches them.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logLevel != "" {
				zerolog.SetGlobalLevel(telemetry.ParseLevel(opts.logLevel))
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.settingsFile, "settings", "", "settings file (default <dir>/settings.cue)")
	flags.StringArrayVarP(&opts.properties, "property", "P", nil, "set a build property (key=value)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&opts.traceExport, "trace", "none", "trace exporter (none, stdout, otlp)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&opts.events.target, "events", "", "write build events as JSON lines to a file (- for stderr)")
	flags.StringVar(&opts.events.level, "events-level", telemetry.EventLevelInfo, "minimum event level (info, warning, error)")
	flags.StringSliceVar(&opts.events.types, "events-type", nil, "only write events of these types")
	flags.StringVar(&opts.events.project, "events-project", "", "only write events of this project")

	rootCmd.AddCommand(newEvaluateCommand(opts))
	rootCmd.AddCommand(newJvmArgsCommand(opts))
	rootCmd.AddCommand(newExecCommand(opts))
	rootCmd.AddCommand(newPolicyCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))

	return rootCmd
}
