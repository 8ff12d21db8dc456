package agent

import (
	"context"
	"sync"
)

// MockClient is a scripted chat client for tests. It replays queued
// responses in order (repeating the last one once exhausted) and records
// every conversation it was sent so tests can assert on injected turns.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	next      int
	calls     [][]Message
	err       error
}

func NewMockClient(responses ...string) *MockClient {
	if len(responses) == 0 {
		responses = []string{`{"agentMessage": "Mock response", "isComplete": false}`}
	}
	return &MockClient{responses: responses}
}

// FailWith makes every subsequent call return err.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockClient) Chat(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]Message, len(messages))
	copy(copied, messages)
	m.calls = append(m.calls, copied)

	if m.err != nil {
		return "", m.err
	}

	resp := m.responses[m.next]
	if m.next < len(m.responses)-1 {
		m.next++
	}
	return resp, nil
}

// Calls returns every conversation log received so far.
func (m *MockClient) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastCall returns the most recent conversation log, or nil.
func (m *MockClient) LastCall() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
