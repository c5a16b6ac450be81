package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/build"
	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/stores"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		buildID string
		project string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "history [dir]",
		Short: "Show recorded builds and project evaluations",
		Long: `Show the evaluation history recorded in the build's history database.

Recording is enabled with history.enabled in the settings file. Without
flags the most recent builds are listed.`,
		Example: `  # Last 20 builds
  kiln history

  # Evaluations of one build
  kiln history --build 6f1c...

  # Recent evaluations of a project
  kiln history --project :api --limit 5`,
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

			sp, err := newStartParameter(opts, dir)
			if err != nil {
				return err
			}
			b, err := build.Load(cmd.Context(), sp, config.NewSettingsLoader())
			if err != nil {
				return err
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: historyPath(b.RootDir(), b.Settings())})
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return err
			}
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case buildID != "":
				evals, err := store.ListEvaluationsByBuild(ctx, buildID)
				if err != nil {
					return err
				}
				return writeOutput(out, format, evals, func(w io.Writer) error {
					return writeEvaluationsText(w, evals)
				})

			case project != "":
				evals, err := store.ListEvaluationsByProject(ctx, project, limit)
				if err != nil {
					return err
				}
				return writeOutput(out, format, evals, func(w io.Writer) error {
					return writeEvaluationsText(w, evals)
				})

			default:
				builds, err := store.ListBuilds(ctx, limit, 0)
				if err != nil {
					return err
				}
				return writeOutput(out, format, builds, func(w io.Writer) error {
					return writeBuildsText(w, builds)
				})
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	cmd.Flags().StringVar(&buildID, "build", "", "show the evaluations of one build")
	cmd.Flags().StringVar(&project, "project", "", "show recent evaluations of one project")
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "output format (text, json, yaml, toml)")
	cmd.MarkFlagsMutuallyExclusive("build", "project")

	return cmd
}

func writeBuildsText(w io.Writer, builds []*stores.BuildRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, b := range builds {
		duration := "-"
		if b.CompletedAt != nil {
			duration = b.CompletedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
		}
		errMsg := ""
		if b.Error != nil {
			errMsg = firstLine(*b.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			b.ID, b.Name, b.Status, b.StartedAt.Local().Format(time.DateTime), duration, errMsg)
	}
	return tw.Flush()
}

func writeEvaluationsText(w io.Writer, evals []*stores.EvaluationRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tSTATUS\tSTARTED\tDURATION\tFAILURE")
	for _, e := range evals {
		duration := "-"
		if e.Status.Finished() {
			duration = (time.Duration(e.DurationMS) * time.Millisecond).String()
		}
		failure := ""
		if e.Failure != nil {
			failure = firstLine(*e.Failure)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ProjectPath, e.Status, e.StartedAt.Local().Format(time.DateTime), duration, failure)
	}
	return tw.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}
