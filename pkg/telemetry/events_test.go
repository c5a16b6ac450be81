package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) receive(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	sink := &eventSink{}
	ep.Subscribe(sink.receive, nil)

	if err := ep.PublishProjectEvaluated("b-1", ":api", 2, time.Second); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(sink.events))
	}
	e := sink.events[0]
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Errorf("event defaults not applied: %+v", e)
	}
	if e.BuildID != "b-1" || e.Project != ":api" || e.Level != EventLevelInfo {
		t.Errorf("event = %+v", e)
	}
	if e.Data["forks"] != 2 {
		t.Errorf("forks = %v, want 2", e.Data["forks"])
	}
}

func TestEventPublisherAsyncOrderAndDrain(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:      true,
		EnableAsync:  true,
		BufferSize:   16,
		MaxBatchSize: 100,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	sink := &eventSink{}
	ep.Subscribe(sink.receive, nil)

	_ = ep.PublishProjectEvaluating("b-1", ":api")
	_ = ep.PublishProjectEvaluated("b-1", ":api", 0, time.Millisecond)
	_ = ep.PublishForkLaunched("b-1", ":api", "test", 0, time.Millisecond)

	// The batch is never full, so only shutdown delivers it
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	want := []string{EventTypeProjectEvaluating, EventTypeProjectEvaluated, EventTypeForkLaunched}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("types = %v, want %v", got, want)
			break
		}
	}

	if err := ep.PublishProjectEvaluating("b-1", ":web"); err == nil {
		t.Error("Publish() after Shutdown should fail")
	}
	if err := ep.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestEventPublisherBufferFull(t *testing.T) {
	ep := &EventPublisher{
		config: EventsConfig{Enabled: true, EnableAsync: true},
		buffer: make(chan Event, 1),
		ctx:    context.Background(),
	}

	if err := ep.Publish(Event{Type: "a"}); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}
	if err := ep.Publish(Event{Type: "b"}); err == nil {
		t.Error("Publish() into a full buffer should fail")
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	sink := &eventSink{}
	ep.Subscribe(sink.receive, nil)
	if err := ep.PublishProjectEvaluating("b", ":api"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("disabled publisher delivered %d events", len(sink.events))
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestEventFilters(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	warnings := &eventSink{}
	launches := &eventSink{}
	ep.Subscribe(warnings.receive, FilterByLevel(EventLevelWarning))
	ep.Subscribe(launches.receive, FilterByType(EventTypeForkLaunched))
	ep.AddFilter(func(e Event) bool { return e.Project != ":ignored" })

	_ = ep.PublishProjectEvaluating("b", ":api")
	_ = ep.PublishProjectFailed("b", ":api", "boom", time.Second)
	_ = ep.PublishForkLaunched("b", ":api", "run", 1, time.Second)
	_ = ep.PublishForkLaunched("b", ":ignored", "run", 1, time.Second)

	if got := warnings.types(); len(got) != 2 {
		t.Errorf("warning subscriber got %v, want failed and launched", got)
	}
	if got := launches.types(); len(got) != 1 {
		t.Errorf("launch subscriber got %v, want one launch", got)
	}

	if !FilterByProject(":api")(Event{Project: ":api"}) || FilterByProject(":api")(Event{Project: ":web"}) {
		t.Error("FilterByProject() mismatch")
	}
}

func TestJSONLinesSubscriber(t *testing.T) {
	var buf bytes.Buffer
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	ep.AddFilter(FilterByLevel(EventLevelWarning))
	ep.Subscribe(JSONLinesSubscriber(&buf), nil)

	_ = ep.PublishProjectEvaluating("b-1", ":api")
	_ = ep.PublishForkLaunched("b-1", ":api", "run", 3, time.Second)
	_ = ep.PublishProjectFailed("b-1", ":web", "boom", time.Second)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if first.Type != EventTypeForkLaunched || first.Fork != "run" || first.Level != EventLevelWarning || first.ID == "" {
		t.Errorf("first event = %+v", first)
	}
	if !strings.Contains(lines[1], `"type":"project.failed"`) {
		t.Errorf("second line = %s", lines[1])
	}
}
