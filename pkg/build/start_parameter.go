package build

import (
	"os"
	"path/filepath"
	"time"

	"github.com/kilnbuild/kiln/pkg/config"
)

// Version is the kiln version, set at link time.
var Version = "dev"

// Environment variables that override the default home directories.
const (
	HomeDirEnv     = "KILN_HOME"
	UserHomeDirEnv = "KILN_USER_HOME"
)

// StartParameter holds what a build is started with: the build
// directory, home directories and command-line property overrides.
type StartParameter struct {
	// BuildDir is the build's root directory.
	BuildDir string

	// SettingsFile is the settings source; empty means BuildDir/settings.cue.
	SettingsFile string

	// HomeDir is the kiln installation directory.
	HomeDir string

	// UserHomeDir holds per-user kiln state.
	UserHomeDir string

	// Properties override the build properties from settings.
	Properties map[string]string

	// ScriptTimeout bounds each build script run.
	ScriptTimeout time.Duration
}

// NewStartParameter returns a start parameter for the current directory.
// Home directories come from KILN_HOME and KILN_USER_HOME when set; the
// user home otherwise defaults to ~/.kiln and the home to the directory
// holding the kiln executable.
func NewStartParameter() *StartParameter {
	sp := &StartParameter{
		BuildDir:      ".",
		HomeDir:       os.Getenv(HomeDirEnv),
		UserHomeDir:   os.Getenv(UserHomeDirEnv),
		Properties:    make(map[string]string),
		ScriptTimeout: config.DefaultScriptTimeout,
	}

	if sp.UserHomeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			sp.UserHomeDir = filepath.Join(home, ".kiln")
		}
	}
	if sp.HomeDir == "" {
		if exe, err := os.Executable(); err == nil {
			sp.HomeDir = filepath.Dir(exe)
		}
	}

	return sp
}

// settingsSource returns the settings file to load.
func (sp *StartParameter) settingsSource() string {
	if sp.SettingsFile != "" {
		return sp.SettingsFile
	}
	return filepath.Join(sp.BuildDir, config.DefaultSettingsFile)
}
