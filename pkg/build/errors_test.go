package build

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *BuildError
		want string
	}{
		{
			name: "with project",
			err:  NewEvaluationError("build script failed", errors.New("boom")).WithProject(":api"),
			want: "[evaluation] build script failed (project=:api): boom",
		},
		{
			name: "without cause",
			err:  NewConfigurationError("no projects", nil),
			want: "[configuration] no projects",
		},
		{
			name: "listener",
			err:  NewListenerError(PhaseAfter, errors.New("db down")),
			want: "[listener] after-evaluate listener failed: db down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildError_Classification(t *testing.T) {
	cause := errors.New("cause")
	joined := errors.Join(
		NewEvaluationError("script", cause),
		NewListenerError(PhaseAfter, cause),
	)

	if !IsEvaluation(joined) || !IsListener(joined) || IsConfiguration(joined) {
		t.Errorf("unexpected classification of %v", joined)
	}
	if !errors.Is(joined, cause) {
		t.Error("expected the cause to stay reachable")
	}
	if !errors.Is(joined, &BuildError{Class: ErrorClassListener, Phase: PhaseAfter}) {
		t.Error("expected an after-phase listener error")
	}
	if errors.Is(joined, &BuildError{Class: ErrorClassListener, Phase: PhaseBefore}) {
		t.Error("did not expect a before-phase listener error")
	}
	if IsEvaluation(cause) {
		t.Error("plain errors are not classified")
	}
}

func TestBuildError_WithDetail(t *testing.T) {
	err := NewEvaluationError("script", nil).WithDetail("script", "/x/build.star")
	if err.Details["script"] != "/x/build.star" {
		t.Errorf("Details = %v", err.Details)
	}
	if !strings.Contains(err.Error(), "evaluation") {
		t.Errorf("Error() = %q", err.Error())
	}
}
