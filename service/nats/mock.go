package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*StakingEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*StakingEvent, 0),
	}
}

// PublishStakingEvent records the event and returns any configured error.
func (m *MockPublisher) PublishStakingEvent(ctx context.Context, event *StakingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*StakingEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*StakingEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventsForOwner returns events published for a specific owner.
func (m *MockPublisher) GetPublishedEventsForOwner(owner string) []*StakingEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*StakingEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Owner == owner {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishStakingEvent.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
