package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/shell"

	"github.com/kilnbuild/kiln/pkg/fork"
	"github.com/kilnbuild/kiln/pkg/launcher"
)

func newExecCommand(opts *globalOptions) *cobra.Command {
	var (
		classpath []string
		jvmOpts   string
		noPolicy  bool
		sel       policySelection
	)

	cmd := &cobra.Command{
		Use:   "exec [dir] <project> <fork> <mainClass> [-- args...]",
		Short: "Launch a JVM with a fork's options",
		Long: `Evaluate one project and launch a JVM configured by one of its forks:

  <executable> <jvm args> [-cp <classpath>] <mainClass> <args>

The fork's working directory and environment are used. --jvm-opts adds
JVM arguments for this launch only; the value is split like a shell
command line, and $VARS are expanded from the environment. Before launching,
the fork is checked against the built-in and configured policies; any
error-severity violation blocks the launch. kiln exits with the JVM's
exit code.`,
		Example: `  # Run the "run" fork of :app
  kiln exec :app run com.example.Main

  # Pass arguments to the program
  kiln exec ./service :api run com.example.Server -- --port 8080

  # Extra JVM arguments for one launch
  kiln exec :app run com.example.Main --jvm-opts '-Dgreeting="hello world" -Xss2m'`,
		Args: func(cmd *cobra.Command, args []string) error {
			n := len(args)
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				n = dash
			}
			if n < 3 || n > 4 {
				return fmt.Errorf("accepts [dir] <project> <fork> <mainClass>, received %d positional arg(s)", n)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			positional, programArgs := args, []string(nil)
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				positional, programArgs = args[:dash], args[dash:]
			}

			dir := "."
			if len(positional) == 4 {
				dir, positional = positional[0], positional[1:]
			}
			projectPath, forkName, mainClass := positional[0], positional[1], positional[2]

			s, p, err := evaluateProject(cmd.Context(), opts, dir, projectPath)
			if err != nil {
				return err
			}

			javaOpts, err := lookupFork(p, forkName)
			if err != nil {
				s.close(nil)
				return err
			}
			if jvmOpts != "" {
				javaOpts, err = withExtraJvmArgs(javaOpts, jvmOpts)
				if err != nil {
					s.close(nil)
					return err
				}
			}

			je := launcher.NewJavaExec(p.Path(), forkName, javaOpts, mainClass, programArgs...)
			je.Classpath = classpath
			je.Stdin = os.Stdin
			je.Stdout = cmd.OutOrStdout()
			je.Stderr = cmd.ErrOrStderr()
			je.Logger = s.tel.Logger.NewComponentLogger("launcher").WithFork(p.Path(), forkName).Zerolog()
			je.Observers = []launcher.Observer{s.listener}

			if !noPolicy {
				engine, err := s.policyEngine(&sel)
				if err != nil {
					s.close(err)
					return err
				}
				je.Checker = engine
			}

			ctx, span := s.tel.Tracer.StartLaunchSpan(s.ctx, p.Path(), forkName)
			result, err := je.Run(ctx)
			span.End()

			if result != nil && result.Policy != nil {
				s.listener.RecordPolicyResult(result.Policy)
				for _, w := range result.Policy.Warnings {
					log.Warn().Str("policy", w.Policy).Msg(w.Message)
				}
			}
			s.close(nil)

			var blocked *launcher.BlockedError
			if errors.As(err, &blocked) {
				return err
			}
			if err != nil {
				return fmt.Errorf("launching fork %s of %s: %w", forkName, p.Path(), err)
			}
			if result.ExitCode != 0 {
				return &ExitError{Code: result.ExitCode}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&classpath, "cp", nil, "classpath entries")
	cmd.Flags().StringVar(&jvmOpts, "jvm-opts", "", "extra JVM arguments, split with shell quoting rules")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy check")
	sel.addFlags(cmd)

	return cmd
}

// withExtraJvmArgs returns a copy of opts with the shell-split words of
// line appended to its JVM arguments. The project's fork is not modified.
func withExtraJvmArgs(opts *fork.JavaOptions, line string) (*fork.JavaOptions, error) {
	words, err := shell.Fields(line, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("invalid --jvm-opts: %w", err)
	}

	clone := opts.Clone()
	args := make([]any, len(words))
	for i, w := range words {
		args[i] = w
	}
	if err := clone.AddJvmArgs(args...); err != nil {
		return nil, fmt.Errorf("invalid --jvm-opts: %w", err)
	}
	return clone, nil
}
