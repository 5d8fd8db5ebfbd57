package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"actionforge.gg/internal/protocol"
)

// Memory is an in-process Publisher for tests and dry runs. It stores the
// last payload per ref and counts calls so tests can assert that a no-op
// refresh performs no writes.
type Memory struct {
	mu   sync.Mutex
	next int

	Messages map[string]protocol.Payload
	Channels map[string]string // ref -> channel it was published into

	PublishCalls int
	UpdateCalls  int
	DeleteCalls  int

	// Latency is added to every call; tests use it to force timeouts.
	Latency time.Duration

	// FailChannels rejects publishes into these channel refs.
	FailChannels map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		Messages: map[string]protocol.Payload{},
		Channels: map[string]string{},
	}
}

func (m *Memory) Publish(ctx context.Context, locationID, channelRef string, p protocol.Payload) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishCalls++
	if m.FailChannels[channelRef] {
		return "", ErrMissingRef
	}
	m.next++
	ref := fmt.Sprintf("msg_%d", m.next)
	m.Messages[ref] = p
	m.Channels[ref] = channelRef
	return ref, nil
}

func (m *Memory) Update(ctx context.Context, ref string, p protocol.Payload) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if _, ok := m.Messages[ref]; !ok {
		return ErrMissingRef
	}
	m.Messages[ref] = p
	return nil
}

func (m *Memory) Delete(ctx context.Context, ref string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	delete(m.Messages, ref)
	delete(m.Channels, ref)
	return nil
}

// Drop removes a message out-of-band, simulating external deletion.
func (m *Memory) Drop(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Messages, ref)
	delete(m.Channels, ref)
}

// Message returns the stored payload for ref.
func (m *Memory) Message(ref string) (protocol.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Messages[ref]
	return p, ok
}

// Writes reports publish+update+delete call totals.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PublishCalls + m.UpdateCalls + m.DeleteCalls
}

func (m *Memory) wait(ctx context.Context) error {
	if m.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.Latency):
		return nil
	}
}
