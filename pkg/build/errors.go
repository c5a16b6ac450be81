package build

import (
	"errors"
	"fmt"
)

// ErrorClass classifies build failures by where they came from.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates invalid settings or project layout.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassEvaluation indicates a build script failed.
	ErrorClassEvaluation ErrorClass = "evaluation"

	// ErrorClassListener indicates an evaluation listener returned an error.
	ErrorClassListener ErrorClass = "listener"
)

// Evaluation phases reported in BuildError.Phase.
const (
	PhaseBefore = "before"
	PhaseScript = "script"
	PhaseAfter  = "after"
)

var (
	// ErrProjectNotFound is returned when a project path is not registered.
	ErrProjectNotFound = errors.New("project not found")

	// ErrDuplicateProject is returned when a project path is registered twice.
	ErrDuplicateProject = errors.New("project already registered")
)

// BuildError is a classified build failure.
// nolint:revive // BuildError reads better than build.Error at call sites
type BuildError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Project is the path of the project involved, if any.
	Project string `json:"project,omitempty"`

	// Phase is the evaluation phase that failed, if any.
	Phase string `json:"phase,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	var msg string
	if e.Project != "" {
		msg = fmt.Sprintf("[%s] %s (project=%s)", e.Class, e.Message, e.Project)
	} else {
		msg = fmt.Sprintf("[%s] %s", e.Class, e.Message)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *BuildError of the same class and phase.
func (e *BuildError) Is(target error) bool {
	t, ok := target.(*BuildError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Phase == "" || e.Phase == t.Phase)
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, err error) *BuildError {
	return &BuildError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewEvaluationError creates a script evaluation error.
func NewEvaluationError(message string, err error) *BuildError {
	return &BuildError{
		Class:   ErrorClassEvaluation,
		Message: message,
		Phase:   PhaseScript,
		Err:     err,
	}
}

// NewListenerError creates a listener error for the given phase.
func NewListenerError(phase string, err error) *BuildError {
	return &BuildError{
		Class:   ErrorClassListener,
		Message: phase + "-evaluate listener failed",
		Phase:   phase,
		Err:     err,
	}
}

// WithProject adds project context to an error.
func (e *BuildError) WithProject(path string) *BuildError {
	e.Project = path
	return e
}

// WithDetail adds a detail field to the error context.
func (e *BuildError) WithDetail(key string, value interface{}) *BuildError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return hasClass(err, ErrorClassConfiguration)
}

// IsEvaluation reports whether err carries a build script failure.
func IsEvaluation(err error) bool {
	return hasClass(err, ErrorClassEvaluation)
}

// IsListener reports whether err carries a listener failure.
func IsListener(err error) bool {
	return hasClass(err, ErrorClassListener)
}

// hasClass matches any *BuildError in err's tree, including errors.Join results.
func hasClass(err error, class ErrorClass) bool {
	return errors.Is(err, &BuildError{Class: class})
}
