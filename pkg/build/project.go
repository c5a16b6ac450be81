package build

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/fork"
)

// State is where a project is in its evaluation lifecycle.
type State int

const (
	// StateNotStarted means no listener has been notified yet.
	StateNotStarted State = iota

	// StateBeforeFired means BeforeEvaluate has been broadcast.
	StateBeforeFired

	// StateAfterFired means AfterEvaluate has been broadcast.
	StateAfterFired
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateBeforeFired:
		return "before-fired"
	case StateAfterFired:
		return "after-fired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Project is one project of a build. It implements evaluation.Project
// and hands its named JVM forks to the build script.
type Project struct {
	name     string
	path     string
	dir      string
	script   string
	defaults *fork.Defaults

	mu        sync.Mutex
	state     State
	forks     map[string]*fork.JavaOptions
	forkOrder []string
	result    *config.ScriptResult
	failure   error
}

// NewProject creates a project. dir and script are used as given; the
// registry resolves them against the build directory. defaults may be nil.
func NewProject(name, path, dir, script string, defaults *fork.Defaults) (*Project, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	if name == "" {
		name = defaultName(path)
	}

	return &Project{
		name:     name,
		path:     path,
		dir:      dir,
		script:   script,
		defaults: defaults,
		forks:    make(map[string]*fork.JavaOptions),
	}, nil
}

// Name returns the short project name.
func (p *Project) Name() string { return p.name }

// Path returns the project path.
func (p *Project) Path() string { return p.path }

// Dir returns the project directory.
func (p *Project) Dir() string { return p.dir }

// ScriptPath returns the build script location.
func (p *Project) ScriptPath() string { return p.script }

// State returns the lifecycle state.
func (p *Project) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Failure returns the evaluation failure, nil if evaluation succeeded or
// has not happened.
func (p *Project) Failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// Result returns the build script result, nil before the script ran.
func (p *Project) Result() *config.ScriptResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// JavaFork returns the fork called name, creating it from the build's
// fork defaults on first use. New forks run in the project directory
// unless the defaults name another working directory.
func (p *Project) JavaFork(name string) (*fork.JavaOptions, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if opts, ok := p.forks[name]; ok {
		return opts, nil
	}

	opts, err := fork.NewFromDefaults(p.defaults)
	if err != nil {
		return nil, fmt.Errorf("applying fork defaults to %s: %w", name, err)
	}
	if opts.WorkingDir() == "" {
		opts.SetWorkingDir(p.dir)
	}

	p.forks[name] = opts
	p.forkOrder = append(p.forkOrder, name)
	return opts, nil
}

// Fork returns an existing fork without creating it.
func (p *Project) Fork(name string) (*fork.JavaOptions, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	opts, ok := p.forks[name]
	return opts, ok
}

// ForkNames returns fork names in creation order.
func (p *Project) ForkNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.forkOrder))
	copy(out, p.forkOrder)
	return out
}

// Snapshots captures every fork of the project, in creation order.
func (p *Project) Snapshots() []fork.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]fork.Snapshot, 0, len(p.forkOrder))
	for _, name := range p.forkOrder {
		snap := p.forks[name].Snapshot()
		snap.Name = name
		snap.Project = p.path
		out = append(out, snap)
	}
	return out
}

// advance moves the project to state, refusing to go backwards.
func (p *Project) advance(state State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state <= p.state {
		return false
	}
	p.state = state
	return true
}

func (p *Project) finish(result *config.ScriptResult, failure error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = result
	p.failure = failure
}

// checkPath validates a colon-separated project path.
func checkPath(path string) error {
	if !strings.HasPrefix(path, ":") {
		return NewConfigurationError(fmt.Sprintf("invalid project path %q", path), fmt.Errorf("must start with ':'"))
	}
	if path != ":" && (strings.HasSuffix(path, ":") || strings.Contains(path, "::")) {
		return NewConfigurationError(fmt.Sprintf("invalid project path %q", path), fmt.Errorf("empty path segment"))
	}
	return nil
}

// defaultName is the last path segment, or "root" for ":".
func defaultName(path string) string {
	if path == ":" {
		return "root"
	}
	return path[strings.LastIndex(path, ":")+1:]
}
