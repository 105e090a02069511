package temporal

import (
	"context"
	"sync"
)

// MockStarter is a ConfirmationStarter that records started confirmations.
type MockStarter struct {
	mu       sync.Mutex
	started  []ConfirmSubmissionInput
	startErr error
}

// NewMockStarter creates a new MockStarter.
func NewMockStarter() *MockStarter {
	return &MockStarter{}
}

// StartConfirmation records input and returns its workflow ID.
func (m *MockStarter) StartConfirmation(ctx context.Context, input ConfirmSubmissionInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return "", m.startErr
	}
	m.started = append(m.started, input)
	return ConfirmationWorkflowID(input.Signature), nil
}

// SetStartError makes StartConfirmation return err.
func (m *MockStarter) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Started returns a copy of every input passed to StartConfirmation.
func (m *MockStarter) Started() []ConfirmSubmissionInput {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ConfirmSubmissionInput, len(m.started))
	copy(out, m.started)
	return out
}
