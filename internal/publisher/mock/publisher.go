package mock

import (
	"context"
	"sync"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/publisher"
)

// Ensure MockPublisher implements publisher.Publisher.
var _ publisher.Publisher = (*MockPublisher)(nil)

// MockPublisher is a mock event publisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	Published []*domain.JobEvent
	PublishFn func(ctx context.Context, ev *domain.JobEvent) error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, ev *domain.JobEvent) error {
	if m.PublishFn != nil {
		return m.PublishFn(ctx, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MockPublisher) Events() []*domain.JobEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.JobEvent(nil), m.Published...)
}

func (m *MockPublisher) Close() error {
	return nil
}
