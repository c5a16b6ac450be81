// Package launcher starts JVM processes from fork options.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/kilnbuild/kiln/pkg/fork"
	"github.com/kilnbuild/kiln/pkg/policy"
)

// ErrLaunchBlocked is returned when a policy check disallows a fork.
var ErrLaunchBlocked = errors.New("launch blocked by policy")

// BlockedError carries the policy result that stopped a launch.
type BlockedError struct {
	Fork    string
	Project string
	Result  *policy.Result
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("fork %s of project %s: %s", e.Fork, e.Project, ErrLaunchBlocked)
	if e.Result != nil && len(e.Result.Violations) > 0 {
		msg += ": " + e.Result.Violations[0].Message
		if n := len(e.Result.Violations) - 1; n > 0 {
			msg += fmt.Sprintf(" (and %d more)", n)
		}
	}
	return msg
}

// Unwrap lets errors.Is match ErrLaunchBlocked.
func (e *BlockedError) Unwrap() error {
	return ErrLaunchBlocked
}

// Checker evaluates a fork before it is launched.
type Checker interface {
	EvaluateFork(ctx context.Context, snapshot fork.Snapshot, operation string) (*policy.Result, error)
}

// Observer is told about every process that was started.
type Observer interface {
	ForkLaunched(ctx context.Context, result *Result)
}

// Result is the outcome of one launch.
type Result struct {
	Fork     string         `json:"fork"`
	Project  string         `json:"project,omitempty"`
	Command  []string       `json:"command"`
	Stdout   string         `json:"stdout,omitempty"`
	Stderr   string         `json:"stderr,omitempty"`
	ExitCode int            `json:"exit_code"`
	Duration time.Duration  `json:"duration"`
	Policy   *policy.Result `json:"policy,omitempty"`
}

// Success reports whether the process exited with status 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// JavaExec runs a main class with the options of one fork.
type JavaExec struct {
	Name      string
	Project   string
	Options   *fork.JavaOptions
	Classpath []string
	MainClass string
	Args      []string

	// Stdin, Stdout and Stderr are optional. Output is captured in the
	// Result either way.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Checker   Checker
	Observers []Observer
	Logger    zerolog.Logger
}

// NewJavaExec creates a JavaExec for the named fork of a project.
func NewJavaExec(project, name string, opts *fork.JavaOptions, mainClass string, args ...string) *JavaExec {
	return &JavaExec{
		Name:      name,
		Project:   project,
		Options:   opts,
		MainClass: mainClass,
		Args:      args,
		Logger:    zerolog.Nop(),
	}
}

// CommandLine returns the full command: the executable, every JVM
// argument, the class path when one is set, the main class and its
// arguments.
func (j *JavaExec) CommandLine() []string {
	cmdline := []string{j.Options.Executable()}
	cmdline = append(cmdline, j.Options.AllJvmArgs()...)
	if cp := classpath(j.Classpath); cp != "" {
		cmdline = append(cmdline, "-cp", cp)
	}
	if j.MainClass != "" {
		cmdline = append(cmdline, j.MainClass)
	}
	return append(cmdline, j.Args...)
}

// Command builds the exec.Cmd without starting it. Fork environment
// variables override the parent environment.
func (j *JavaExec) Command(ctx context.Context) *exec.Cmd {
	cmdline := j.CommandLine()
	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)

	if dir := j.Options.WorkingDir(); dir != "" {
		cmd.Dir = dir
	}
	if env := j.Options.EnvironmentList(); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdin = j.Stdin

	return cmd
}

// Run checks the fork against the policy checker, if any, and runs it to
// completion. A non-zero exit status is reported in the Result, not as an
// error.
func (j *JavaExec) Run(ctx context.Context) (*Result, error) {
	if j.Options == nil {
		return nil, fmt.Errorf("fork %s has no options", j.Name)
	}
	if j.MainClass == "" && len(j.Args) == 0 {
		return nil, fmt.Errorf("fork %s: main class is required", j.Name)
	}

	logger := j.Logger.With().
		Str("component", "launcher").
		Str("project", j.Project).
		Str("fork", j.Name).
		Logger()

	result := &Result{
		Fork:    j.Name,
		Project: j.Project,
		Command: j.CommandLine(),
	}

	if j.Checker != nil {
		snap := j.Options.Snapshot()
		snap.Name = j.Name
		snap.Project = j.Project

		verdict, err := j.Checker.EvaluateFork(ctx, snap, policy.OperationLaunch)
		if err != nil {
			return nil, fmt.Errorf("failed to check fork %s: %w", j.Name, err)
		}
		result.Policy = verdict
		if !verdict.Allowed {
			logger.Warn().Int("violations", len(verdict.Violations)).Msg("Launch blocked by policy")
			return result, &BlockedError{Fork: j.Name, Project: j.Project, Result: verdict}
		}
	}

	cmd := j.Command(ctx)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = teeWriter(&stdout, j.Stdout)
	cmd.Stderr = teeWriter(&stderr, j.Stderr)

	logger.Debug().Strs("command", result.Command).Msg("Launching fork")

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute fork %s: %w", j.Name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Fork finished")

	for _, o := range j.Observers {
		o.ForkLaunched(ctx, result)
	}

	return result, nil
}

func classpath(entries []string) string {
	cp := ""
	for _, e := range entries {
		if e == "" {
			continue
		}
		if cp != "" {
			cp += string(os.PathListSeparator)
		}
		cp += e
	}
	return cp
}

func teeWriter(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
