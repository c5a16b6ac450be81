package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/policy"
)

func newPolicyCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Check forks against Rego policies",
		Long: `Commands for the policies forks are checked against.

Built-in policies validate heap sizes and flag remote debugging agents.
Additional .rego or .json policies are listed under "policies" in the
settings file.`,
	}

	cmd.AddCommand(newPolicyCheckCommand(opts))
	cmd.AddCommand(newPolicyListCommand(opts))

	return cmd
}

func newPolicyCheckCommand(opts *globalOptions) *cobra.Command {
	var (
		format string
		watch  bool
		sel    policySelection
	)

	cmd := &cobra.Command{
		Use:   "check [dir]",
		Short: "Evaluate the build and check every fork",
		Long: `Evaluate the build and check every fork against the built-in policies
and the policies listed in the settings file.

With --watch the build is evaluated once and the forks are checked again
whenever a policy file changes.`,
		Example: `  # Check all forks of the build in the current directory
  kiln policy check

  # Machine-readable result
  kiln policy check ./service -o json

  # Skip one policy
  kiln policy check --disable remote-debug-agent

  # Re-check while editing policies
  kiln policy check --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			format, err := resolveFormat(opts, format)
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), opts, dir)
			if err != nil {
				return err
			}

			if evalErr := s.evaluate(false); evalErr != nil {
				s.close(evalErr)
				return fmt.Errorf("build evaluation failed: %w", evalErr)
			}
			snapshots := s.forkSnapshots()
			out := cmd.OutOrStdout()

			check := func(engine *policy.Engine) (*policy.Result, error) {
				result, err := engine.EvaluateForks(s.ctx, snapshots, policy.OperationCheck)
				if err != nil {
					return nil, fmt.Errorf("policy evaluation failed: %w", err)
				}
				s.listener.RecordPolicyResult(result)
				return result, writeOutput(out, format, result, func(w io.Writer) error {
					return writePolicyText(w, len(snapshots), result)
				})
			}

			if watch {
				defer s.close(nil)

				reloaded := make(chan struct{}, 1)
				engine, loader, err := s.watchPolicies(&sel, reloaded)
				if err != nil {
					return err
				}
				defer loader.StopWatching()

				return watchPolicyCheck(s.ctx, reloaded, func() error {
					_, err := check(engine)
					return err
				})
			}

			engine, err := s.policyEngine(&sel)
			if err != nil {
				s.close(err)
				return err
			}
			result, err := check(engine)
			s.close(err)
			if err != nil {
				return err
			}
			if !result.Allowed {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatText, "output format (text, json, yaml, toml)")
	cmd.Flags().BoolVar(&watch, "watch", false, "check again when policy files change")
	sel.addFlags(cmd)

	return cmd
}

// watchPolicyCheck runs check once and again after every signal on
// reloaded, until ctx is done. Check failures are logged and do not stop
// the watch.
func watchPolicyCheck(ctx context.Context, reloaded <-chan struct{}, check func() error) error {
	run := func() {
		if err := check(); err != nil {
			log.Error().Err(err).Msg("Policy check failed")
		}
		log.Info().Msg("Watching policies for changes")
	}
	run()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reloaded:
			run()
		}
	}
}

func newPolicyListCommand(opts *globalOptions) *cobra.Command {
	var sel policySelection

	cmd := &cobra.Command{
		Use:   "list [dir]",
		Short: "List the policies forks are checked against",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			s, err := openSession(cmd.Context(), opts, dir)
			if err != nil {
				return err
			}
			defer s.close(nil)

			engine, err := s.policyEngine(&sel)
			if err != nil {
				return err
			}

			policies := engine.ListPolicies()
			format, _ := resolveFormat(opts, formatText)
			return writeOutput(cmd.OutOrStdout(), format, policies, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tDESCRIPTION")
				for _, p := range policies {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
				}
				return tw.Flush()
			})
		},
	}

	sel.addFlags(cmd)

	return cmd
}

func writePolicyText(w io.Writer, forks int, result *policy.Result) error {
	for _, v := range result.Violations {
		fmt.Fprintf(w, "ERROR   %s %s [%s]: %s\n", v.Project, v.Fork, v.Policy, v.Message)
		if v.Remediation != "" {
			fmt.Fprintf(w, "        fix: %s\n", v.Remediation)
		}
	}
	for _, v := range result.Warnings {
		fmt.Fprintf(w, "%-7s %s %s [%s]: %s\n", severityLabel(v.Severity), v.Project, v.Fork, v.Policy, v.Message)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "FAILED  %s\n", e)
	}

	status := "passed"
	if !result.Allowed {
		status = "failed"
	}
	fmt.Fprintf(w, "\nChecked %d fork(s) against %d policies: %s (%d violation(s), %d warning(s))\n",
		forks, len(result.EvaluatedPolicies), status, len(result.Violations), len(result.Warnings))
	return nil
}

func severityLabel(s policy.Severity) string {
	switch s {
	case policy.SeverityInfo:
		return "INFO"
	case policy.SeverityWarning:
		return "WARN"
	default:
		return "ERROR"
	}
}
