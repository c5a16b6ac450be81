package evaluation

import (
	"errors"
	"reflect"
	"testing"
)

type testProject struct {
	name string
	path string
}

func (p *testProject) Name() string { return p.name }
func (p *testProject) Path() string { return p.path }

// recordingListener appends every call it receives to a shared log.
type recordingListener struct {
	id        string
	log       *[]string
	failures  []error
	beforeErr error
	afterErr  error
}

func (l *recordingListener) BeforeEvaluate(project Project) error {
	*l.log = append(*l.log, l.id+".before("+project.Path()+")")
	return l.beforeErr
}

func (l *recordingListener) AfterEvaluate(project Project, failure error) error {
	*l.log = append(*l.log, l.id+".after("+project.Path()+")")
	l.failures = append(l.failures, failure)
	return l.afterErr
}

func TestBroadcaster_DeliversToListener(t *testing.T) {
	var log []string
	b := NewBroadcaster()
	listener := &recordingListener{id: "l", log: &log}
	b.AddListener(listener)

	project := &testProject{name: "app", path: ":app"}
	failure := errors.New("boom")

	if err := b.BeforeEvaluate(project); err != nil {
		t.Fatalf("BeforeEvaluate() error = %v", err)
	}
	if err := b.AfterEvaluate(project, failure); err != nil {
		t.Fatalf("AfterEvaluate() error = %v", err)
	}

	want := []string{"l.before(:app)", "l.after(:app)"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("calls = %v, want %v", log, want)
	}
	if len(listener.failures) != 1 || listener.failures[0] != failure {
		t.Errorf("expected the failure to be delivered unchanged, got %v", listener.failures)
	}
}

func TestBroadcaster_RegistrationOrder(t *testing.T) {
	var log []string
	b := NewBroadcaster()

	b.AddListener(&recordingListener{id: "L1", log: &log})
	b.AddListener(&recordingListener{id: "L2", log: &log})
	b.AddBeforeCallback(func(p Project) error {
		log = append(log, "C1("+p.Path()+")")
		return nil
	})
	b.AddBeforeCallback(func(p Project) error {
		log = append(log, "C2("+p.Path()+")")
		return nil
	})

	if err := b.BeforeEvaluate(&testProject{path: ":"}); err != nil {
		t.Fatalf("BeforeEvaluate() error = %v", err)
	}

	want := []string{"L1.before(:)", "L2.before(:)", "C1(:)", "C2(:)"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("calls = %v, want %v", log, want)
	}
}

func TestBroadcaster_CallbacksFireOnlyForTheirPhase(t *testing.T) {
	b := NewBroadcaster()
	project := &testProject{path: ":lib"}
	failure := errors.New("script failed")

	var before, after int
	var gotFailure error
	b.AddBeforeCallback(func(p Project) error {
		before++
		return nil
	})
	b.AddAfterCallback(func(p Project, f error) error {
		after++
		gotFailure = f
		return nil
	})

	if err := b.BeforeEvaluate(project); err != nil {
		t.Fatalf("BeforeEvaluate() error = %v", err)
	}
	if before != 1 || after != 0 {
		t.Errorf("after BeforeEvaluate: before=%d after=%d", before, after)
	}

	if err := b.AfterEvaluate(project, failure); err != nil {
		t.Fatalf("AfterEvaluate() error = %v", err)
	}
	if before != 1 || after != 1 {
		t.Errorf("after AfterEvaluate: before=%d after=%d", before, after)
	}
	if gotFailure != failure {
		t.Errorf("after callback got failure %v, want %v", gotFailure, failure)
	}

	if err := b.AfterEvaluate(project, nil); err != nil {
		t.Fatalf("AfterEvaluate() error = %v", err)
	}
	if gotFailure != nil {
		t.Errorf("expected nil failure on success, got %v", gotFailure)
	}
}

func TestBroadcaster_ListenerErrorStopsBroadcast(t *testing.T) {
	var log []string
	b := NewBroadcaster()
	listenerErr := errors.New("listener failed")

	b.AddListener(&recordingListener{id: "L1", log: &log})
	b.AddListener(&recordingListener{id: "L2", log: &log, beforeErr: listenerErr, afterErr: listenerErr})
	b.AddListener(&recordingListener{id: "L3", log: &log})

	project := &testProject{path: ":"}

	if err := b.BeforeEvaluate(project); err != listenerErr {
		t.Fatalf("BeforeEvaluate() error = %v, want %v", err, listenerErr)
	}
	want := []string{"L1.before(:)", "L2.before(:)"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("calls = %v, want %v", log, want)
	}

	log = log[:0]
	if err := b.AfterEvaluate(project, nil); err != listenerErr {
		t.Fatalf("AfterEvaluate() error = %v, want %v", err, listenerErr)
	}
	want = []string{"L1.after(:)", "L2.after(:)"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("calls = %v, want %v", log, want)
	}
}

func TestBroadcaster_DuplicateRegistrationFiresTwice(t *testing.T) {
	var log []string
	b := NewBroadcaster()
	listener := &recordingListener{id: "L", log: &log}

	b.AddListener(listener)
	b.AddListener(listener)

	if err := b.BeforeEvaluate(&testProject{path: ":"}); err != nil {
		t.Fatalf("BeforeEvaluate() error = %v", err)
	}
	if len(log) != 2 {
		t.Errorf("expected 2 notifications, got %v", log)
	}
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}
}

func TestBroadcaster_RegistrationDuringBroadcast(t *testing.T) {
	b := NewBroadcaster()
	var late int

	b.AddBeforeCallback(func(p Project) error {
		b.AddBeforeCallback(func(Project) error {
			late++
			return nil
		})
		return nil
	})

	project := &testProject{path: ":"}
	if err := b.BeforeEvaluate(project); err != nil {
		t.Fatalf("BeforeEvaluate() error = %v", err)
	}
	if late != 0 {
		t.Errorf("listener registered mid-broadcast fired in the same broadcast")
	}

	if err := b.BeforeEvaluate(project); err != nil {
		t.Fatalf("BeforeEvaluate() error = %v", err)
	}
	if late != 1 {
		t.Errorf("expected late listener to fire once on the next broadcast, got %d", late)
	}
}

func TestBroadcaster_NilRegistrationsIgnored(t *testing.T) {
	b := NewBroadcaster()
	b.AddListener(nil)
	b.AddBeforeCallback(nil)
	b.AddAfterCallback(nil)

	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
	if err := b.BeforeEvaluate(&testProject{path: ":"}); err != nil {
		t.Errorf("BeforeEvaluate() error = %v", err)
	}
}
