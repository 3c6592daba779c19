package session

import (
	"context"
	"sync"
)

// MemoryFactory keeps device sessions in process memory. Used when no
// Redis is configured and in tests.
type MemoryFactory struct {
	mu       sync.Mutex
	sessions map[string]UserSession
}

// NewMemoryFactory creates an empty in-memory session registry.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{sessions: make(map[string]UserSession)}
}

// Store returns the store for deviceID.
func (f *MemoryFactory) Store(deviceID string) Store {
	return &memoryStore{f: f, device: deviceID}
}

type memoryStore struct {
	f      *MemoryFactory
	device string
}

func (m *memoryStore) Save(_ context.Context, s UserSession) error {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	m.f.sessions[m.device] = s
	return nil
}

func (m *memoryStore) Load(_ context.Context) (*UserSession, error) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	s, ok := m.f.sessions[m.device]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memoryStore) Clear(_ context.Context) error {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	delete(m.f.sessions, m.device)
	return nil
}
