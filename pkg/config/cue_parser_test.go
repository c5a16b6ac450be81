package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validSettings = `
package kiln

build: {
	name: "shop"
	properties: {
		version: "1.4.0"
	}
}

projects: {
	":": {}
	":api": {script: "api.star"}
	":libs:core": {dir: "modules/core"}
}

forkDefaults: {
	maxHeapSize: "512m"
	systemProperties: {"file.encoding": "UTF-8"}
}

history: enabled: true
`

func TestSettingsLoader_ParseInline(t *testing.T) {
	loader := NewSettingsLoader()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErrs  bool
		checkFunc func(*testing.T, *ParsedSettings)
	}{
		{
			name:    "valid settings",
			content: validSettings,
			checkFunc: func(t *testing.T, ps *ParsedSettings) {
				s := ps.Settings
				if s.Build.Name != "shop" {
					t.Errorf("expected build name 'shop', got %q", s.Build.Name)
				}
				if s.Build.Properties["version"] != "1.4.0" {
					t.Errorf("expected version property, got %v", s.Build.Properties)
				}
				if len(s.Projects) != 3 {
					t.Fatalf("expected 3 projects, got %d", len(s.Projects))
				}
				if s.ForkDefaults.MaxHeapSize != "512m" {
					t.Errorf("expected fork default heap 512m, got %q", s.ForkDefaults.MaxHeapSize)
				}
				if !s.History.Enabled {
					t.Error("expected history to be enabled")
				}
			},
		},
		{
			name:    "defaults are filled in",
			content: validSettings,
			checkFunc: func(t *testing.T, ps *ParsedSettings) {
				s := ps.Settings
				checks := map[string]ProjectSettings{
					":":          {Dir: ".", Script: DefaultScriptFile},
					":api":       {Dir: "api", Script: "api.star"},
					":libs:core": {Dir: "modules/core", Script: DefaultScriptFile},
				}
				for path, want := range checks {
					if got := s.Projects[path]; got != want {
						t.Errorf("project %s = %+v, want %+v", path, got, want)
					}
				}
				if s.History.Path != DefaultHistoryPath {
					t.Errorf("expected default history path, got %q", s.History.Path)
				}
				if s.Logging.Level != "info" || s.Logging.Format != "console" {
					t.Errorf("unexpected logging defaults: %+v", s.Logging)
				}
			},
		},
		{
			name: "invalid CUE syntax",
			content: `
build: {
	name: "shop"
`,
			wantErrs: true,
		},
		{
			name: "missing build name",
			content: `
build: {}
projects: ":": {}
`,
			wantErrs: true,
		},
		{
			name: "project path without colon",
			content: `
build: name: "shop"
projects: "api": {}
`,
			wantErrs: true,
		},
		{
			name: "unknown top-level field",
			content: `
build: name: "shop"
projects: ":": {}
colour: "blue"
`,
			wantErrs: true,
		},
		{
			name: "bad heap size",
			content: `
build: name: "shop"
projects: ":": {}
forkDefaults: maxHeapSize: "lots"
`,
			wantErrs: true,
		},
		{
			name: "bad log level",
			content: `
build: name: "shop"
projects: ":": {}
logging: level: "loud"
`,
			wantErrs: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := loader.ParseInline(ctx, tt.content)
			if err != nil {
				t.Fatalf("ParseInline() error = %v", err)
			}

			if tt.wantErrs {
				if len(ps.Errors) == 0 {
					t.Fatal("expected validation errors, got none")
				}
				if ps.Settings != nil {
					t.Error("expected no settings when errors are reported")
				}
				return
			}

			if len(ps.Errors) > 0 {
				t.Fatalf("unexpected errors: %v", ps.Errors)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, ps)
			}
		})
	}
}

func TestSettingsLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultSettingsFile), []byte(validSettings), 0o644); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}

	settings, err := NewSettingsLoader().LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if settings.Build.Name != "shop" {
		t.Errorf("expected build name 'shop', got %q", settings.Build.Name)
	}
}

func TestSettingsLoader_LoadDirectoryUnifiesFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"build.cue":    "build: name: \"shop\"\n",
		"projects.cue": "projects: \":\": {}\nprojects: \":web\": {}\n",
		"notes.txt":    "not cue",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	ps, err := NewSettingsLoader().Parse(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(ps.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", ps.Errors)
	}
	if len(ps.SourceFiles) != 2 {
		t.Errorf("expected 2 source files, got %v", ps.SourceFiles)
	}
	if len(ps.Settings.Projects) != 2 {
		t.Errorf("expected 2 projects, got %d", len(ps.Settings.Projects))
	}
}

func TestSettingsLoader_LoadReportsPositions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultSettingsFile)
	content := "build: name: \"shop\"\nprojects: \":\": {}\nlogging: level: \"loud\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}

	_, err := NewSettingsLoader().Load(context.Background(), path)
	if err == nil {
		t.Fatal("expected an error")
	}

	var settingsErr *SettingsError
	if !errors.As(err, &settingsErr) {
		t.Fatalf("expected *SettingsError, got %T", err)
	}

	var found bool
	for _, ve := range settingsErr.Errors {
		if ve.File == path && ve.Line > 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error positioned in %s, got %v", path, settingsErr.Errors)
	}
}

func TestSettingsLoader_MissingSource(t *testing.T) {
	_, err := NewSettingsLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.cue"))
	if err == nil {
		t.Fatal("expected an error for a missing source")
	}

	if _, err := NewSettingsLoader().Parse(context.Background(), nil); err == nil {
		t.Fatal("expected an error without sources")
	}
}

func TestSettingsLoader_Validate(t *testing.T) {
	loader := NewSettingsLoader()

	tests := []struct {
		name     string
		settings *Settings
		wantErr  string
	}{
		{
			name: "valid",
			settings: &Settings{
				Build:    BuildSettings{Name: "shop"},
				Projects: map[string]ProjectSettings{":": {Script: "build.star"}},
			},
		},
		{
			name: "no projects",
			settings: &Settings{
				Build: BuildSettings{Name: "shop"},
			},
			wantErr: "Projects",
		},
		{
			name: "empty path segment",
			settings: &Settings{
				Build:    BuildSettings{Name: "shop"},
				Projects: map[string]ProjectSettings{":a::b": {}},
			},
			wantErr: "empty segment",
		},
		{
			name: "script must be starlark",
			settings: &Settings{
				Build:    BuildSettings{Name: "shop"},
				Projects: map[string]ProjectSettings{":": {Script: "build.gradle"}},
			},
			wantErr: "Script",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loader.Validate(tt.settings)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestProjectDir(t *testing.T) {
	tests := map[string]string{
		":":          ".",
		":api":       "api",
		":libs:core": "libs/core",
	}
	for path, want := range tests {
		if got := ProjectDir(path); got != want {
			t.Errorf("ProjectDir(%q) = %q, want %q", path, got, want)
		}
	}
}
