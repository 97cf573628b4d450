package store

import (
	"context"
	"sync"
)

// Memory is an in-process Storage used by tests and as the default when no
// durable backend is configured.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string

	notifier *Notifier
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:   make(map[string]string),
		notifier: NewNotifier(),
	}
}

// Get implements Storage.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Set implements Storage.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()

	m.notifier.Notify(Change{Key: key, NewValue: value, Op: OpSet})
	return nil
}

// SetMany implements Storage. The write itself is atomic under the lock;
// notifications go out per key.
func (m *Memory) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	for k, v := range values {
		m.values[k] = v
	}
	m.mu.Unlock()

	for k, v := range values {
		m.notifier.Notify(Change{Key: k, NewValue: v, Op: OpSet})
	}
	return nil
}

// Remove implements Storage.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.values[key]
	delete(m.values, key)
	m.mu.Unlock()

	if existed {
		m.notifier.Notify(Change{Key: key, Op: OpRemove})
	}
	return nil
}

// Watch implements Storage.
func (m *Memory) Watch(ctx context.Context) (<-chan Change, error) {
	return m.notifier.Watch(ctx)
}

// Close implements Storage.
func (m *Memory) Close() error {
	return nil
}
