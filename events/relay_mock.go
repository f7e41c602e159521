package events

import (
	"sync"

	"github.com/streadway/amqp"
)

// MockAMQPDialer wires the relay to in-memory doubles for tests.
type MockAMQPDialer struct {
	Connection *MockAMQPConnection
	DialErr    error

	DialCalled bool
	LastURL    string
}

// NewMockAMQPDialer builds a dialer whose connection and channel succeed.
func NewMockAMQPDialer() *MockAMQPDialer {
	return &MockAMQPDialer{
		Connection: &MockAMQPConnection{Channel_: &MockAMQPChannel{}},
	}
}

func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	m.DialCalled = true
	m.LastURL = url
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.Connection, nil
}

// MockAMQPConnection is a test double for AMQPConnection.
type MockAMQPConnection struct {
	Channel_   *MockAMQPChannel
	ChannelErr error

	CloseCalled bool
}

func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.Channel_, nil
}

func (m *MockAMQPConnection) Close() error {
	m.CloseCalled = true
	return nil
}

// MockAMQPChannel records declared exchanges and published messages.
type MockAMQPChannel struct {
	mu sync.Mutex

	DeclaredExchange string
	Published        []amqp.Publishing
	PublishedKeys    []string

	DeclareErr error
	PublishErr error
}

func (m *MockAMQPChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeclareErr != nil {
		return m.DeclareErr
	}
	m.DeclaredExchange = name
	return nil
}

func (m *MockAMQPChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Published = append(m.Published, msg)
	m.PublishedKeys = append(m.PublishedKeys, key)
	return nil
}

// Messages returns a snapshot of the published messages.
func (m *MockAMQPChannel) Messages() []amqp.Publishing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]amqp.Publishing, len(m.Published))
	copy(out, m.Published)
	return out
}

func (m *MockAMQPChannel) Close() error { return nil }
