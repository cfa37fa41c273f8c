// Package testutil provides test doubles for code that calls an LLM.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/semheal/llm"
)

// MockLLMClient is a thread-safe stand-in for *llm.Client. It returns the
// configured responses in order and records every request.
//
//	mock := &MockLLMClient{
//	    Responses: []*llm.Response{{Content: "```js\ntest('x', ...)\n```"}},
//	}
type MockLLMClient struct {
	mu            sync.Mutex
	requests      []llm.Request
	responseIndex int

	// Responses are returned in sequence; the last one repeats.
	Responses []*llm.Response
	// Err, when set, is returned instead of a response.
	Err error
}

// Complete records the request and returns the next configured response.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &llm.Response{Model: "test-model"}, nil
	}

	resp := m.Responses[m.responseIndex]
	if m.responseIndex < len(m.Responses)-1 {
		m.responseIndex++
	}
	return resp, nil
}

// Requests returns the requests received so far.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of Complete calls.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
