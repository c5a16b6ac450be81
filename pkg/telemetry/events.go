package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event of a kiln build.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// BuildID is the associated build, if any.
	BuildID string `json:"build_id,omitempty"`

	// Project is the associated project path, if any.
	Project string `json:"project,omitempty"`

	// Fork is the associated fork name, if any.
	Fork string `json:"fork,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for kiln event types.
const (
	EventTypeProjectEvaluating = "project.evaluating"
	EventTypeProjectEvaluated  = "project.evaluated"
	EventTypeProjectFailed     = "project.failed"
	EventTypeForkLaunched      = "fork.launched"
	EventTypePolicyViolation   = "policy.violation"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers. With EnableAsync, events
// are buffered and delivered in batches from one goroutine, in publish
// order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnce    sync.Once
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishProjectEvaluating publishes the start of a project evaluation.
func (ep *EventPublisher) PublishProjectEvaluating(buildID, project string) error {
	return ep.Publish(Event{
		Type:    EventTypeProjectEvaluating,
		Source:  "evaluator",
		BuildID: buildID,
		Project: project,
		Message: fmt.Sprintf("Evaluating project %s", project),
		Level:   EventLevelInfo,
	})
}

// PublishProjectEvaluated publishes a successful project evaluation.
func (ep *EventPublisher) PublishProjectEvaluated(buildID, project string, forks int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeProjectEvaluated,
		Source:  "evaluator",
		BuildID: buildID,
		Project: project,
		Message: fmt.Sprintf("Project %s evaluated", project),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"forks":    forks,
			"duration": duration.Seconds(),
		},
	})
}

// PublishProjectFailed publishes a failed project evaluation.
func (ep *EventPublisher) PublishProjectFailed(buildID, project, reason string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeProjectFailed,
		Source:  "evaluator",
		BuildID: buildID,
		Project: project,
		Message: fmt.Sprintf("Project %s failed: %s", project, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason":   reason,
			"duration": duration.Seconds(),
		},
	})
}

// PublishForkLaunched publishes a finished fork.
func (ep *EventPublisher) PublishForkLaunched(buildID, project, fork string, exitCode int, duration time.Duration) error {
	level := EventLevelInfo
	if exitCode != 0 {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeForkLaunched,
		Source:  "launcher",
		BuildID: buildID,
		Project: project,
		Fork:    fork,
		Message: fmt.Sprintf("Fork %s of %s exited with %d", fork, project, exitCode),
		Level:   level,
		Data: map[string]interface{}{
			"exit_code": exitCode,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishPolicyViolation publishes a policy violation by a fork.
func (ep *EventPublisher) PublishPolicyViolation(buildID, project, fork, policyName, message string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		BuildID: buildID,
		Project: project,
		Fork:    fork,
		Message: fmt.Sprintf("Policy %s violated by %s/%s: %s", policyName, project, fork, message),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// JSONLinesSubscriber returns a subscriber that writes each event to w as
// one line of JSON.
func JSONLinesSubscriber(w io.Writer) EventSubscriber {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(event)
	}
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}

		case <-tick:
			flush()

		case <-ep.ctx.Done():
			// Drain whatever was published before shutdown
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers pending events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.stopOnce.Do(ep.cancel)

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByProject creates a filter that only allows events for one project.
func FilterByProject(project string) EventFilter {
	return func(event Event) bool {
		return event.Project == project
	}
}
