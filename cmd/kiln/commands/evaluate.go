package commands

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/config"
)

// watchDebounce coalesces bursts of file events into one re-evaluation.
const watchDebounce = 300 * time.Millisecond

func newEvaluateCommand(opts *globalOptions) *cobra.Command {
	var (
		format    string
		watch     bool
		keepGoing bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate [dir]",
		Short: "Evaluate the build scripts of every project",
		Long: `Evaluate every project of the build in path order and print the JVM
forks each build script configured.

Evaluation listeners are notified before and after each project. By
default evaluation stops at the first failing project.`,
		Example: `  # Evaluate the build in the current directory
  kiln evaluate

  # Evaluate another build, printing YAML
  kiln evaluate ./service -o yaml

  # Re-evaluate whenever a build script or the settings change
  kiln evaluate --watch`,
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

			run := func(ctx context.Context) error {
				return evaluateOnce(ctx, opts, dir, format, keepGoing, cmd.OutOrStdout())
			}

			if !watch {
				return run(cmd.Context())
			}
			return watchBuild(cmd.Context(), dir, run)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatText, "output format (text, json, yaml, toml)")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-evaluate when build files change")
	cmd.Flags().BoolVar(&keepGoing, "continue", false, "keep evaluating after a project fails")

	return cmd
}

func evaluateOnce(ctx context.Context, opts *globalOptions, dir, format string, keepGoing bool, out io.Writer) error {
	s, err := openSession(ctx, opts, dir)
	if err != nil {
		return err
	}

	evalErr := s.evaluate(keepGoing)
	s.close(evalErr)

	report := newBuildReport(s)
	if err := writeOutput(out, format, report, func(w io.Writer) error {
		return writeBuildText(w, report)
	}); err != nil {
		return err
	}

	if evalErr != nil {
		return fmt.Errorf("build evaluation failed: %w", evalErr)
	}
	return nil
}

// watchBuild runs fn once and again after every change to a settings file
// or build script under dir, until ctx is done. Evaluation failures are
// logged and do not stop the watch.
func watchBuild(ctx context.Context, dir string, fn func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, dir); err != nil {
		return err
	}

	evaluate := func() {
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Msg("Evaluation failed")
		}
		log.Info().Str("dir", dir).Msg("Watching for changes")
	}
	evaluate()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				// New project directories need watching too
				_ = addWatchDirs(watcher, event.Name)
			}
			if !isBuildFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Build file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(watchDebounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			evaluate()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// addWatchDirs watches root and every directory below it.
func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); path != root && (name == ".git" || name == ".kiln" || name == "build") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func isBuildFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".star" || ext == filepath.Ext(config.DefaultSettingsFile)
}
