package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kilnbuild/kiln/pkg/fork"
)

// DefaultSettingsFile is the settings file looked up in a build directory.
const DefaultSettingsFile = "settings.cue"

// DefaultScriptFile is the build script name used when a project names none.
const DefaultScriptFile = "build.star"

// DefaultHistoryPath is where evaluation history is stored, relative to the build directory.
const DefaultHistoryPath = ".kiln/history.db"

// Settings is the decoded settings file of a multi-project build.
type Settings struct {
	// Build holds build-wide parameters.
	Build BuildSettings `json:"build" validate:"required"`

	// Projects maps project paths (":" for the root, ":a:b" for nested
	// projects) to their location.
	Projects map[string]ProjectSettings `json:"projects" validate:"required,min=1,dive"`

	// ForkDefaults are applied to every JVM fork a build script creates.
	ForkDefaults fork.Defaults `json:"forkDefaults,omitempty"`

	// Policies lists .rego/.json files or directories with fork policies.
	Policies []string `json:"policies,omitempty"`

	// History configures the evaluation history database.
	History HistorySettings `json:"history,omitempty"`

	// Logging configures the CLI logger.
	Logging LoggingSettings `json:"logging,omitempty"`
}

// BuildSettings are build-wide parameters.
type BuildSettings struct {
	// Name is the build (root project) name.
	Name string `json:"name" validate:"required"`

	// HomeDir is the kiln installation directory.
	HomeDir string `json:"homeDir,omitempty"`

	// UserHomeDir holds per-user caches and state.
	UserHomeDir string `json:"userHomeDir,omitempty"`

	// Properties are exposed to build scripts as the `properties` dict.
	Properties map[string]string `json:"properties,omitempty"`
}

// ProjectSettings locates one project of the build.
type ProjectSettings struct {
	// Dir is the project directory relative to the build directory.
	Dir string `json:"dir,omitempty"`

	// Script is the build script relative to Dir.
	Script string `json:"script,omitempty" validate:"omitempty,endswith=.star"`
}

// HistorySettings configures the evaluation history database.
type HistorySettings struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LoggingSettings configures the logger.
type LoggingSettings struct {
	Level  string `json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `json:"format,omitempty" validate:"omitempty,oneof=console json"`
}

// ParsedSettings is the result of parsing settings sources.
type ParsedSettings struct {
	// Settings is the decoded settings, nil when Errors is non-empty.
	Settings *Settings `json:"settings,omitempty"`

	// SourceFiles lists the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when parsing finished.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists every problem found in the sources.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ScriptResult is the outcome of running a build script.
type ScriptResult struct {
	// Output holds the script's public globals converted to Go values.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script ran.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is the script failure with its Starlark backtrace, if any.
	Error string `json:"error,omitempty"`
}

// ValidationError is a problem found in a settings source.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	var loc string
	switch {
	case ve.File != "" && ve.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", ve.File, ve.Line, ve.Column)
	case ve.File != "":
		loc = ve.File + ": "
	}
	if ve.Path != "" {
		return fmt.Sprintf("%s%s: %s", loc, ve.Path, ve.Message)
	}
	return loc + ve.Message
}

// SettingsError groups the validation errors of a settings load.
type SettingsError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *SettingsError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return "invalid settings: " + strings.Join(msgs, "; ")
}

// ProjectDir derives the default directory of a project path: ":" is the
// build directory and ":a:b" is "a/b".
func ProjectDir(path string) string {
	trimmed := strings.Trim(path, ":")
	if trimmed == "" {
		return "."
	}
	return strings.ReplaceAll(trimmed, ":", "/")
}

// applyDefaults fills in every optional setting.
func (s *Settings) applyDefaults() {
	for path, p := range s.Projects {
		if p.Dir == "" {
			p.Dir = ProjectDir(path)
		}
		if p.Script == "" {
			p.Script = DefaultScriptFile
		}
		s.Projects[path] = p
	}
	if s.Build.Properties == nil {
		s.Build.Properties = make(map[string]string)
	}
	if s.History.Path == "" {
		s.History.Path = DefaultHistoryPath
	}
	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
	if s.Logging.Format == "" {
		s.Logging.Format = "console"
	}
}
