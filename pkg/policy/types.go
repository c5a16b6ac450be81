package policy

import (
	"time"

	"github.com/kilnbuild/kiln/pkg/fork"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block launches.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity disallow a fork.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Operations reported in the policy context.
const (
	OperationCheck  = "check"
	OperationLaunch = "launch"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its deny set is queried.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with kiln.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single policy violation by a fork.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy" yaml:"policy"`

	// Project is the path of the project owning the fork.
	Project string `json:"project,omitempty" yaml:"project,omitempty"`

	// Fork is the fork name.
	Fork string `json:"fork,omitempty" yaml:"fork,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message" yaml:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity" yaml:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty" yaml:"remediation,omitempty"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed" yaml:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty" yaml:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at" yaml:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies" yaml:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Merge folds other into r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Allowed = r.Allowed && other.Allowed
	r.Violations = append(r.Violations, other.Violations...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Errors = append(r.Errors, other.Errors...)
	r.Duration += other.Duration
	if len(r.EvaluatedPolicies) == 0 {
		r.EvaluatedPolicies = other.EvaluatedPolicies
	}
}

// Input is the document policies are evaluated against.
type Input struct {
	// Fork is the fork configuration being checked.
	Fork fork.Snapshot `json:"fork"`

	// Context provides evaluation context.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Operation is "check" or "launch".
	Operation string `json:"operation"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
