package llm

import (
	"context"
	"sync"
)

// MockClient is a scriptable Client for tests. Responses are returned in
// order; once exhausted the last one repeats.
type MockClient struct {
	mu        sync.Mutex
	responses []CompletionResponse
	index     int
	err       error
	fn        func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Calls records every request received.
	Calls []CompletionRequest
}

// NewMockClient returns a mock that always answers content.
func NewMockClient(content string) *MockClient {
	return &MockClient{responses: []CompletionResponse{{Content: content, FinishReason: "end_turn"}}}
}

// WithResponses answers each call with the next content string.
func (m *MockClient) WithResponses(contents ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = m.responses[:0]
	for _, c := range contents {
		m.responses = append(m.responses, CompletionResponse{Content: c, FinishReason: "end_turn"})
	}
	m.index = 0
	return m
}

// WithCompletions answers each call with the next full response.
func (m *MockClient) WithCompletions(responses ...CompletionResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append([]CompletionResponse(nil), responses...)
	m.index = 0
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithCompleteFunc delegates every call to fn.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn, err := m.fn, m.err
	var resp CompletionResponse
	if len(m.responses) > 0 {
		resp = m.responses[min(m.index, len(m.responses)-1)]
		m.index++
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CallCount returns the number of calls received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	last := m.Calls[len(m.Calls)-1]
	return &last
}

// Reset clears recorded calls and rewinds the responses.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.index = 0
}
