package source

import (
	"context"
	"io"
	"sync"
	"time"
)

// MockSource feeds scripted messages to the pipeline in tests. After the
// script is exhausted Fetch returns io.EOF, or blocks when HoldOpen is set.
type MockSource struct {
	mu        sync.Mutex
	queue     []*Message
	committed []*Message
	closed    bool

	// FetchErr, when set, is returned by the next Fetch and then cleared
	FetchErr error
	// HoldOpen keeps Fetch blocking on an empty queue instead of EOF
	HoldOpen bool

	notify chan struct{}
}

func NewMockSource() *MockSource {
	return &MockSource{notify: make(chan struct{}, 1)}
}

// Push enqueues a raw message as if it arrived from the bus
func (m *MockSource) Push(stream string, value []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, &Message{
		Stream:      stream,
		Value:       value,
		BusTSMillis: time.Now().UnixMilli(),
		ReceivedAt:  time.Now(),
	})
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *MockSource) Fetch(ctx context.Context) (*Message, error) {
	for {
		m.mu.Lock()
		if err := m.FetchErr; err != nil {
			m.FetchErr = nil
			m.mu.Unlock()
			return nil, err
		}
		if len(m.queue) > 0 {
			msg := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return msg, nil
		}
		hold := m.HoldOpen
		m.mu.Unlock()

		if !hold {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		}
	}
}

func (m *MockSource) Commit(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msg)
	return nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSource) Committed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
