package fork

import (
	"strings"
)

// DefaultExecutable is the launcher used when no executable is configured.
const DefaultExecutable = "java"

// ProcessOptions holds the settings shared by every forked process: the
// executable, its working directory and its environment.
type ProcessOptions struct {
	executable  string
	workingDir  string
	environment map[string]string
}

// NewProcessOptions returns process options with the default executable.
func NewProcessOptions() ProcessOptions {
	return ProcessOptions{
		executable:  DefaultExecutable,
		environment: make(map[string]string),
	}
}

// Executable returns the program to launch.
func (p *ProcessOptions) Executable() string {
	if p.executable == "" {
		return DefaultExecutable
	}
	return p.executable
}

// SetExecutable sets the program to launch. An empty value restores the default.
func (p *ProcessOptions) SetExecutable(executable string) {
	p.executable = executable
}

// WorkingDir returns the working directory, or "" for the caller's.
func (p *ProcessOptions) WorkingDir() string {
	return p.workingDir
}

// SetWorkingDir sets the working directory of the process.
func (p *ProcessOptions) SetWorkingDir(dir string) {
	p.workingDir = dir
}

// Environment returns a copy of the environment overrides.
func (p *ProcessOptions) Environment() map[string]string {
	env := make(map[string]string, len(p.environment))
	for k, v := range p.environment {
		env[k] = v
	}
	return env
}

// SetEnvironment replaces the environment overrides.
func (p *ProcessOptions) SetEnvironment(env map[string]any) error {
	converted, err := convertEnvironment("SetEnvironment", env)
	if err != nil {
		return err
	}
	p.environment = converted
	return nil
}

// AddEnvironment merges variables into the environment, overwriting on collision.
func (p *ProcessOptions) AddEnvironment(env map[string]any) error {
	converted, err := convertEnvironment("AddEnvironment", env)
	if err != nil {
		return err
	}
	if p.environment == nil {
		p.environment = make(map[string]string, len(converted))
	}
	for k, v := range converted {
		p.environment[k] = v
	}
	return nil
}

// EnvironmentVar sets a single environment variable. A nil value sets it empty.
func (p *ProcessOptions) EnvironmentVar(name string, value any) error {
	if err := checkEnvName("EnvironmentVar", name); err != nil {
		return err
	}
	s, _ := stringify(value)
	if p.environment == nil {
		p.environment = make(map[string]string)
	}
	p.environment[name] = s
	return nil
}

// EnvironmentList renders the overrides as sorted KEY=VALUE pairs.
func (p *ProcessOptions) EnvironmentList() []string {
	list := make([]string, 0, len(p.environment))
	for _, k := range sortedKeys(p.environment) {
		list = append(list, k+"="+p.environment[k])
	}
	return list
}

func (p *ProcessOptions) copyTo(dst *ProcessOptions) {
	dst.executable = p.executable
	dst.workingDir = p.workingDir
	dst.environment = p.Environment()
}

func convertEnvironment(op string, env map[string]any) (map[string]string, error) {
	if env == nil {
		return nil, invalidArgument(op, "environment", "must not be nil")
	}
	converted := make(map[string]string, len(env))
	for k, v := range env {
		if err := checkEnvName(op, k); err != nil {
			return nil, err
		}
		s, _ := stringify(v)
		converted[k] = s
	}
	return converted, nil
}

func checkEnvName(op, name string) error {
	if name == "" || strings.Contains(name, "=") {
		return invalidArgument(op, name, "environment variable names must be non-empty and must not contain '='")
	}
	return nil
}
