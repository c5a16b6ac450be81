package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// SettingsLoader parses and validates CUE settings files.
type SettingsLoader struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewSettingsLoader creates a new settings loader.
func NewSettingsLoader() *SettingsLoader {
	ctx := cuecontext.New()
	return &SettingsLoader{
		ctx:            ctx,
		schemaRegistry: NewSchemaRegistry(ctx),
		validator:      validator.New(),
	}
}

// Load parses the given sources and returns the decoded settings. Any
// validation problem is reported as a *SettingsError.
func (sl *SettingsLoader) Load(ctx context.Context, sources ...string) (*Settings, error) {
	parsed, err := sl.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}

	if len(parsed.Errors) > 0 {
		return nil, &SettingsError{Errors: parsed.Errors}
	}

	return parsed.Settings, nil
}

// LoadDir loads the settings file of a build directory.
func (sl *SettingsLoader) LoadDir(ctx context.Context, dir string) (*Settings, error) {
	return sl.Load(ctx, filepath.Join(dir, DefaultSettingsFile))
}

// Parse parses CUE settings from the given sources. Sources may be files
// or directories; every .cue file of a directory is unified. Problems in
// the sources are collected in the result rather than returned.
func (sl *SettingsLoader) Parse(ctx context.Context, sources []string) (*ParsedSettings, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var files []string
		if info.IsDir() {
			files, err = sl.listDirectory(source)
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				parseErrors = append(parseErrors, ValidationError{
					File:     source,
					Message:  "no CUE files found",
					Severity: "error",
				})
			}
		} else {
			files = []string{source}
		}

		for _, file := range files {
			val, errs := sl.loadFile(file)
			parseErrors = append(parseErrors, errs...)
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, file)
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedSettings{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	return sl.extractSettings(cueValue, sourceFiles), nil
}

// ParseInline parses inline CUE content.
func (sl *SettingsLoader) ParseInline(ctx context.Context, content string) (*ParsedSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val := sl.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedSettings{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      sl.convertCUEErrors(err),
		}, nil
	}

	return sl.extractSettings(val, []string{"inline"}), nil
}

// Validate checks decoded settings, whether they came from CUE or were
// assembled in code.
func (sl *SettingsLoader) Validate(settings *Settings) error {
	if errs := sl.validateStruct(settings); len(errs) > 0 {
		return &SettingsError{Errors: errs}
	}
	return nil
}

// GetSchemaRegistry returns the schema registry.
func (sl *SettingsLoader) GetSchemaRegistry() *SchemaRegistry {
	return sl.schemaRegistry
}

// listDirectory returns the .cue files directly inside dir, sorted.
func (sl *SettingsLoader) listDirectory(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".cue") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	return files, nil
}

// loadFile loads a single CUE file.
func (sl *SettingsLoader) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := sl.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, sl.convertCUEErrors(err)
	}

	return val, nil
}

// extractSettings checks val against the settings schema and decodes it.
func (sl *SettingsLoader) extractSettings(val cue.Value, sourceFiles []string) *ParsedSettings {
	parsed := &ParsedSettings{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	unified, err := sl.schemaRegistry.Unify("settings", val)
	if err != nil {
		parsed.Errors = sl.convertCUEErrors(err)
		return parsed
	}

	var settings Settings
	if err := unified.Decode(&settings); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Message:  fmt.Sprintf("failed to decode settings: %v", err),
			Severity: "error",
		})
		return parsed
	}

	settings.applyDefaults()

	if errs := sl.validateStruct(&settings); len(errs) > 0 {
		parsed.Errors = errs
		return parsed
	}

	parsed.Settings = &settings
	return parsed
}

// validateStruct runs the struct-tag checks and the checks tags cannot express.
func (sl *SettingsLoader) validateStruct(settings *Settings) []ValidationError {
	var errs []ValidationError

	if err := sl.validator.Struct(settings); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{
					Path:     fe.Namespace(),
					Message:  fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, ValidationError{Message: err.Error(), Severity: "error"})
		}
	}

	for _, path := range sortedProjectPaths(settings.Projects) {
		if !strings.HasPrefix(path, ":") {
			errs = append(errs, ValidationError{
				Path:     "projects." + path,
				Message:  "project path must start with ':'",
				Severity: "error",
			})
		}
		if strings.Contains(path, "::") || (len(path) > 1 && strings.HasSuffix(path, ":")) {
			errs = append(errs, ValidationError{
				Path:     "projects." + path,
				Message:  "project path has an empty segment",
				Severity: "error",
			})
		}
	}

	return errs
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (sl *SettingsLoader) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  strings.TrimSpace(errors.Details(e, nil)),
			Severity: "error",
		})
	}

	return validationErrors
}

// sortedProjectPaths returns the project paths in lexical order, which
// puts the root project first.
func sortedProjectPaths(projects map[string]ProjectSettings) []string {
	paths := make([]string, 0, len(projects))
	for path := range projects {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
