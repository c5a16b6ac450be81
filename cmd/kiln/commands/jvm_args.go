package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/build"
	"github.com/kilnbuild/kiln/pkg/fork"
)

func newJvmArgsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jvm-args [dir] <project> <fork>",
		Short: "Print the JVM arguments of a fork",
		Long: `Evaluate one project and print the full JVM argument list of one of
its forks: system properties in definition order, then the heap flags,
then the extra JVM arguments.`,
		Example: `  # Arguments of the "test" fork of the root project
  kiln jvm-args : test

  # Arguments of a nested project's fork, as JSON
  kiln jvm-args ./service :api:server run --json`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, projectPath, forkName := splitProjectArgs(args)

			s, p, err := evaluateProject(cmd.Context(), opts, dir, projectPath)
			if err != nil {
				return err
			}
			defer s.close(nil)

			javaOpts, err := lookupFork(p, forkName)
			if err != nil {
				return err
			}

			format, _ := resolveFormat(opts, formatText)
			snap := javaOpts.Snapshot()
			return writeOutput(cmd.OutOrStdout(), format, snap.AllJvmArgs, func(w io.Writer) error {
				for _, arg := range snap.AllJvmArgs {
					fmt.Fprintln(w, arg)
				}
				return nil
			})
		},
	}

	return cmd
}

// splitProjectArgs reads [dir] <project> <fork> arguments.
func splitProjectArgs(args []string) (dir, project, forkName string) {
	dir = "."
	if len(args) == 3 {
		dir, args = args[0], args[1:]
	}
	return dir, args[0], args[1]
}

// evaluateProject loads the build in dir and evaluates one project. On
// success the caller owns the session and must close it.
func evaluateProject(ctx context.Context, opts *globalOptions, dir, path string) (*session, *build.Project, error) {
	s, err := openSession(ctx, opts, dir)
	if err != nil {
		return nil, nil, err
	}

	p, err := s.evaluator.EvaluatePath(s.ctx, path)
	if err != nil {
		s.close(err)
		return nil, nil, fmt.Errorf("evaluating project %s: %w", path, err)
	}
	return s, p, nil
}

func lookupFork(p *build.Project, name string) (*fork.JavaOptions, error) {
	opts, ok := p.Fork(name)
	if !ok {
		return nil, fmt.Errorf("project %s has no fork %q (forks: %v)", p.Path(), name, p.ForkNames())
	}
	return opts, nil
}
