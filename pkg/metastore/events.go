package metastore

import (
	"context"
	"sync"
)

// EventSink receives purge lifecycle notifications for consumption by
// audit/eventing subsystems. Sink errors never fail the purge; stores fire
// and continue.
type EventSink interface {
	// ComponentPrePurge is fired before each purge batch is removed.
	ComponentPrePurge(ctx context.Context, repositoryID int64, componentIDs []int64) error

	// ComponentPurged is fired for each component actually removed.
	ComponentPurged(ctx context.Context, component *Component) error

	// ComponentsPurged is the batch-level audit notification, fired after
	// each purge batch with the count removed in that batch.
	ComponentsPurged(ctx context.Context, repositoryID int64, count int) error
}

type noopEventSink struct{}

// NewNoopEventSink returns an EventSink that ignores all notifications.
func NewNoopEventSink() EventSink {
	return noopEventSink{}
}

func (noopEventSink) ComponentPrePurge(context.Context, int64, []int64) error { return nil }
func (noopEventSink) ComponentPurged(context.Context, *Component) error       { return nil }
func (noopEventSink) ComponentsPurged(context.Context, int64, int) error      { return nil }

// PurgeEvent is one recorded notification.
type PurgeEvent struct {
	Kind         string // "pre-purge", "purged", "batch"
	RepositoryID int64
	ComponentIDs []int64
	Component    *Component
	Count        int
}

// RecordingEventSink retains every notification it receives, in order.
// Intended for tests and diagnostics.
type RecordingEventSink struct {
	mu     sync.Mutex
	events []PurgeEvent
}

// NewRecordingEventSink returns an empty recording sink.
func NewRecordingEventSink() *RecordingEventSink {
	return &RecordingEventSink{}
}

// Events returns a copy of the notifications recorded so far.
func (s *RecordingEventSink) Events() []PurgeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PurgeEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *RecordingEventSink) ComponentPrePurge(_ context.Context, repositoryID int64, componentIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, len(componentIDs))
	copy(ids, componentIDs)
	s.events = append(s.events, PurgeEvent{Kind: "pre-purge", RepositoryID: repositoryID, ComponentIDs: ids})
	return nil
}

func (s *RecordingEventSink) ComponentPurged(_ context.Context, component *Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, PurgeEvent{Kind: "purged", Component: component})
	return nil
}

func (s *RecordingEventSink) ComponentsPurged(_ context.Context, repositoryID int64, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, PurgeEvent{Kind: "batch", RepositoryID: repositoryID, Count: count})
	return nil
}
