package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/evaluation"
)

// newScriptedBuild lays out one directory per project with the given
// build script and returns a build over them.
func newScriptedBuild(t *testing.T, scripts map[string]string) *Build {
	t.Helper()
	dir := t.TempDir()
	projects := make(map[string]config.ProjectSettings)

	for path, script := range scripts {
		projectDir := filepath.Join(dir, config.ProjectDir(path))
		if err := os.MkdirAll(projectDir, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", projectDir, err)
		}
		if script != "" {
			if err := os.WriteFile(filepath.Join(projectDir, config.DefaultScriptFile), []byte(script), 0o644); err != nil {
				t.Fatalf("failed to write script: %v", err)
			}
		}
		projects[path] = config.ProjectSettings{}
	}

	b, err := NewFromSettings(&StartParameter{BuildDir: dir}, &config.Settings{
		Build:    config.BuildSettings{Name: "demo", Properties: map[string]string{"heap": "768m"}},
		Projects: projects,
	})
	if err != nil {
		t.Fatalf("NewFromSettings() error = %v", err)
	}
	return b
}

// phaseLog records listener calls and can fail a phase.
type phaseLog struct {
	calls     []string
	failures  []error
	beforeErr error
	afterErr  error
}

func (l *phaseLog) BeforeEvaluate(p evaluation.Project) error {
	l.calls = append(l.calls, "before "+p.Path())
	return l.beforeErr
}

func (l *phaseLog) AfterEvaluate(p evaluation.Project, failure error) error {
	l.calls = append(l.calls, "after "+p.Path())
	l.failures = append(l.failures, failure)
	return l.afterErr
}

func TestEvaluator_Evaluate(t *testing.T) {
	b := newScriptedBuild(t, map[string]string{
		":": `
test = java_fork("test")
test.max_heap_size = properties["heap"]
test.system_property("project", project.name)
`,
	})
	log := &phaseLog{}
	b.AddProjectEvaluationListener(log)

	var stateInBefore, stateInAfter State
	root, _ := b.ProjectRegistry().RootProject()
	b.BeforeProject(func(evaluation.Project) error {
		stateInBefore = root.State()
		return nil
	})
	b.AfterProject(func(evaluation.Project, error) error {
		stateInAfter = root.State()
		return nil
	})

	e := NewEvaluator(b, nil, zerolog.Nop())
	if err := e.Evaluate(context.Background(), root); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if !reflect.DeepEqual(log.calls, []string{"before :", "after :"}) {
		t.Errorf("calls = %v", log.calls)
	}
	if log.failures[0] != nil {
		t.Errorf("expected nil failure, got %v", log.failures[0])
	}
	if stateInBefore != StateBeforeFired || stateInAfter != StateAfterFired {
		t.Errorf("states seen by listeners = %v, %v", stateInBefore, stateInAfter)
	}

	opts, ok := root.Fork("test")
	if !ok {
		t.Fatal("expected the script to create the test fork")
	}
	want := []string{"-Dproject=demo", "-Xmx768m"}
	if got := opts.AllJvmArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllJvmArgs() = %v, want %v", got, want)
	}
	if root.Result() == nil {
		t.Error("expected a script result")
	}
}

func TestEvaluator_EvaluateOnce(t *testing.T) {
	b := newScriptedBuild(t, map[string]string{":": "x = 1\n"})
	log := &phaseLog{}
	b.AddProjectEvaluationListener(log)

	e := NewEvaluator(b, nil, zerolog.Nop())
	root, _ := b.ProjectRegistry().RootProject()
	for i := 0; i < 3; i++ {
		if err := e.Evaluate(context.Background(), root); err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
	}

	if len(log.calls) != 2 {
		t.Errorf("expected each phase to fire once, got %v", log.calls)
	}
}

func TestEvaluator_ScriptFailureReachesAfterListeners(t *testing.T) {
	b := newScriptedBuild(t, map[string]string{
		":": `java_fork("test").set_all_jvm_args(["-Xmx"])` + "\n",
	})
	log := &phaseLog{}
	b.AddProjectEvaluationListener(log)

	e := NewEvaluator(b, nil, zerolog.Nop())
	root, _ := b.ProjectRegistry().RootProject()
	err := e.Evaluate(context.Background(), root)

	if !IsEvaluation(err) {
		t.Fatalf("expected an evaluation error, got %v", err)
	}
	if IsListener(err) {
		t.Error("did not expect a listener error")
	}
	if len(log.failures) != 1 || !IsEvaluation(log.failures[0]) {
		t.Errorf("after listener got %v, want the script failure", log.failures)
	}
	if root.Failure() != err {
		t.Errorf("Failure() = %v, want %v", root.Failure(), err)
	}
	if root.State() != StateAfterFired {
		t.Errorf("State() = %v", root.State())
	}
}

func TestEvaluator_BeforeListenerFailure(t *testing.T) {
	b := newScriptedBuild(t, map[string]string{":": `java_fork("test")` + "\n"})
	listenerErr := errors.New("not today")
	log := &phaseLog{beforeErr: listenerErr}
	b.AddProjectEvaluationListener(log)

	e := NewEvaluator(b, nil, zerolog.Nop())
	root, _ := b.ProjectRegistry().RootProject()
	err := e.Evaluate(context.Background(), root)

	if !errors.Is(err, listenerErr) || !IsListener(err) {
		t.Fatalf("expected the listener error, got %v", err)
	}
	if !reflect.DeepEqual(log.calls, []string{"before :"}) {
		t.Errorf("expected no after notification, got %v", log.calls)
	}
	if len(root.ForkNames()) != 0 {
		t.Error("the build script must not run")
	}

	if again := e.Evaluate(context.Background(), root); again != err {
		t.Errorf("re-evaluation returned %v, want the recorded failure", again)
	}
	if len(log.calls) != 1 {
		t.Errorf("expected no further notifications, got %v", log.calls)
	}
}

func TestEvaluator_AfterListenerFailureJoinsScriptFailure(t *testing.T) {
	b := newScriptedBuild(t, map[string]string{":": "x = 1 // 0\n"})
	listenerErr := errors.New("report failed")
	b.AddProjectEvaluationListener(&phaseLog{afterErr: listenerErr})

	e := NewEvaluator(b, nil, zerolog.Nop())
	root, _ := b.ProjectRegistry().RootProject()
	err := e.Evaluate(context.Background(), root)

	if !IsEvaluation(err) || !IsListener(err) {
		t.Fatalf("expected both failures, got %v", err)
	}
	if !errors.Is(err, listenerErr) {
		t.Errorf("expected the listener error in the chain, got %v", err)
	}
}

func TestEvaluator_MissingScript(t *testing.T) {
	b := newScriptedBuild(t, map[string]string{":": ""})
	log := &phaseLog{}
	b.AddProjectEvaluationListener(log)

	e := NewEvaluator(b, nil, zerolog.Nop())
	if err := e.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if len(log.calls) != 2 {
		t.Errorf("expected both phases for a project without script, got %v", log.calls)
	}
}

func TestEvaluator_EvaluateAllStopsAtFirstFailure(t *testing.T) {
	b := newScriptedBuild(t, map[string]string{
		":":    "x = 1\n",
		":api": "fail('broken')\n",
		":web": "x = 1\n",
	})
	log := &phaseLog{}
	b.AddProjectEvaluationListener(log)

	e := NewEvaluator(b, nil, zerolog.Nop())
	err := e.EvaluateAll(context.Background())
	if !IsEvaluation(err) {
		t.Fatalf("expected an evaluation error, got %v", err)
	}

	want := []string{"before :", "after :", "before :api", "after :api"}
	if !reflect.DeepEqual(log.calls, want) {
		t.Errorf("calls = %v, want %v", log.calls, want)
	}
	web, _ := b.Project(":web")
	if web.State() != StateNotStarted {
		t.Errorf("expected :web untouched, got %v", web.State())
	}
}

func TestEvaluator_EvaluatePath(t *testing.T) {
	b := newScriptedBuild(t, map[string]string{":": "x = 1\n"})
	e := NewEvaluator(b, nil, zerolog.Nop())

	if _, err := e.EvaluatePath(context.Background(), ":nope"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
	p, err := e.EvaluatePath(context.Background(), ":")
	if err != nil || p.State() != StateAfterFired {
		t.Errorf("EvaluatePath() = %v, %v", p, err)
	}
}

func TestEvaluator_CancelledContext(t *testing.T) {
	b := newScriptedBuild(t, map[string]string{":": "x = 1\n"})
	e := NewEvaluator(b, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root, _ := b.ProjectRegistry().RootProject()
	if err := e.Evaluate(ctx, root); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if root.State() != StateNotStarted {
		t.Errorf("State() = %v", root.State())
	}
}
