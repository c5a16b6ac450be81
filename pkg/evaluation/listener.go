// Package evaluation broadcasts project-evaluation lifecycle events.
//
// A Broadcaster fans each notification out to its registered listeners,
// synchronously and in registration order. Callbacks registered through
// AddBeforeCallback and AddAfterCallback are wrapped into listeners, so a
// broadcast walks one homogeneous list.
//
// The first listener that returns an error stops the broadcast for that
// phase; the error reaches the caller unchanged. Listeners that need
// isolation from each other must provide it themselves.
package evaluation

import "errors"

// ErrIncomplete is the failure recorded for an evaluation that started
// but never saw AfterEvaluate, which happens when a listener registered
// later fails BeforeEvaluate.
var ErrIncomplete = errors.New("project evaluation did not complete")

// Project is the part of a project the evaluation lifecycle needs.
type Project interface {
	// Name is the short project name.
	Name() string

	// Path is the unique, colon-separated project path (":" for the root).
	Path() string
}

// Listener is notified immediately before and after a project is evaluated.
type Listener interface {
	// BeforeEvaluate is called before the project's build logic runs.
	BeforeEvaluate(project Project) error

	// AfterEvaluate is called once evaluation is over. failure is nil when
	// evaluation succeeded.
	AfterEvaluate(project Project, failure error) error
}

// BeforeFunc adapts a function to a Listener notified only before evaluation.
type BeforeFunc func(project Project) error

// BeforeEvaluate calls f.
func (f BeforeFunc) BeforeEvaluate(project Project) error {
	return f(project)
}

// AfterEvaluate does nothing.
func (f BeforeFunc) AfterEvaluate(Project, error) error {
	return nil
}

// AfterFunc adapts a function to a Listener notified only after evaluation.
type AfterFunc func(project Project, failure error) error

// BeforeEvaluate does nothing.
func (f AfterFunc) BeforeEvaluate(Project) error {
	return nil
}

// AfterEvaluate calls f.
func (f AfterFunc) AfterEvaluate(project Project, failure error) error {
	return f(project, failure)
}
