// Package build models a kiln build: its projects, their evaluation
// lifecycle and the listeners observing it.
package build

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/evaluation"
	"github.com/kilnbuild/kiln/pkg/fork"
)

// Build is one invocation of kiln over a build directory.
type Build struct {
	startParameter StartParameter
	settings       *config.Settings
	rootDir        string
	homeDir        string
	userHomeDir    string
	properties     map[string]string
	registry       *ProjectRegistry
	broadcaster    *evaluation.Broadcaster
}

// New creates a build without settings: its registry starts empty.
func New(sp *StartParameter) (*Build, error) {
	if sp == nil {
		sp = NewStartParameter()
	}

	rootDir, err := filepath.Abs(sp.BuildDir)
	if err != nil {
		return nil, NewConfigurationError("resolving build directory", err)
	}
	homeDir, err := absOrEmpty(sp.HomeDir)
	if err != nil {
		return nil, NewConfigurationError("resolving home directory", err)
	}
	userHomeDir, err := absOrEmpty(sp.UserHomeDir)
	if err != nil {
		return nil, NewConfigurationError("resolving user home directory", err)
	}

	properties := make(map[string]string, len(sp.Properties))
	for k, v := range sp.Properties {
		properties[k] = v
	}

	return &Build{
		startParameter: *sp,
		rootDir:        rootDir,
		homeDir:        homeDir,
		userHomeDir:    userHomeDir,
		properties:     properties,
		registry:       NewProjectRegistry(),
		broadcaster:    evaluation.NewBroadcaster(),
	}, nil
}

// Load reads the settings named by sp and creates the build with all
// its projects registered.
func Load(ctx context.Context, sp *StartParameter, loader *config.SettingsLoader) (*Build, error) {
	if sp == nil {
		sp = NewStartParameter()
	}
	if loader == nil {
		loader = config.NewSettingsLoader()
	}

	settings, err := loader.Load(ctx, sp.settingsSource())
	if err != nil {
		return nil, NewConfigurationError("loading settings", err)
	}
	return NewFromSettings(sp, settings)
}

// NewFromSettings creates a build from already loaded settings. Home
// directories from sp win over the settings; -P properties override
// settings properties.
func NewFromSettings(sp *StartParameter, settings *config.Settings) (*Build, error) {
	if sp == nil {
		sp = NewStartParameter()
	}
	merged := *sp
	if settings.Build.HomeDir != "" && sp.HomeDir == "" {
		merged.HomeDir = settings.Build.HomeDir
	}
	if settings.Build.UserHomeDir != "" && sp.UserHomeDir == "" {
		merged.UserHomeDir = settings.Build.UserHomeDir
	}

	b, err := New(&merged)
	if err != nil {
		return nil, err
	}
	b.settings = settings

	properties := make(map[string]string, len(settings.Build.Properties)+len(sp.Properties))
	for k, v := range settings.Build.Properties {
		properties[k] = v
	}
	for k, v := range sp.Properties {
		properties[k] = v
	}
	b.properties = properties

	defaults := settings.ForkDefaults
	for _, path := range sortedKeys(settings.Projects) {
		ps := settings.Projects[path]

		dir := ps.Dir
		if dir == "" {
			dir = config.ProjectDir(path)
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(b.rootDir, dir)
		}
		script := ps.Script
		if script == "" {
			script = config.DefaultScriptFile
		}

		name := ""
		if path == ":" {
			name = settings.Build.Name
		}

		p, err := NewProject(name, path, dir, filepath.Join(dir, script), &defaults)
		if err != nil {
			return nil, err
		}
		if err := b.registry.AddProject(p); err != nil {
			return nil, NewConfigurationError("registering project", err).WithProject(path)
		}
	}

	return b, nil
}

// Version returns the kiln version running the build.
func (b *Build) Version() string { return Version }

// HomeDir returns the absolute kiln home directory.
func (b *Build) HomeDir() string { return b.homeDir }

// UserHomeDir returns the absolute kiln user home directory.
func (b *Build) UserHomeDir() string { return b.userHomeDir }

// RootDir returns the absolute build directory.
func (b *Build) RootDir() string { return b.rootDir }

// StartParameter returns a copy of the parameters the build started with.
func (b *Build) StartParameter() StartParameter { return b.startParameter }

// Settings returns the loaded settings, nil for builds created with New.
func (b *Build) Settings() *config.Settings { return b.settings }

// Properties returns a copy of the effective build properties.
func (b *Build) Properties() map[string]string {
	out := make(map[string]string, len(b.properties))
	for k, v := range b.properties {
		out[k] = v
	}
	return out
}

// ForkDefaults returns the fork defaults from settings.
func (b *Build) ForkDefaults() fork.Defaults {
	if b.settings == nil {
		return fork.Defaults{}
	}
	return b.settings.ForkDefaults
}

// ProjectRegistry returns the build's project registry.
func (b *Build) ProjectRegistry() *ProjectRegistry { return b.registry }

// ProjectEvaluationBroadcaster returns the broadcaster that notifies
// project evaluation listeners.
func (b *Build) ProjectEvaluationBroadcaster() *evaluation.Broadcaster { return b.broadcaster }

// AddProjectEvaluationListener registers listener for every project.
func (b *Build) AddProjectEvaluationListener(listener evaluation.Listener) {
	b.broadcaster.AddListener(listener)
}

// BeforeProject registers fn to run before each project is evaluated.
func (b *Build) BeforeProject(fn func(project evaluation.Project) error) {
	b.broadcaster.AddBeforeCallback(fn)
}

// AfterProject registers fn to run after each project is evaluated.
func (b *Build) AfterProject(fn func(project evaluation.Project, failure error) error) {
	b.broadcaster.AddAfterCallback(fn)
}

// Project looks up a project by path.
func (b *Build) Project(path string) (*Project, error) {
	return b.registry.FindProject(path)
}

func absOrEmpty(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%s: %w", dir, err)
	}
	return abs, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
