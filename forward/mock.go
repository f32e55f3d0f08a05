package forward

import (
	"context"
	"sync"
)

// MockCall records one Forward invocation
type MockCall struct {
	Endpoint string
	Payload  []byte
}

// Mock is an in-memory forwarder for tests. Err, when set, is returned by
// every Forward call; Block, when set, stalls Forward until released.
type Mock struct {
	mu     sync.Mutex
	calls  []MockCall
	closed bool

	Err   error
	Block chan struct{}
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Forward(ctx context.Context, endpoint string, payload []byte) error {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.calls = append(m.calls, MockCall{Endpoint: endpoint, Payload: cp})
	return m.Err
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns a copy of the recorded invocations
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
