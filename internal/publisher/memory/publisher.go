// Package memory contains an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message captures one publish call.
type Message struct {
	Topic   string
	Payload any
}

// Publisher records published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
