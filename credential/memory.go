package credential

import (
	"context"
	"sync"
)

// Memory is an in-process Repository. Nothing survives a restart.
type Memory struct {
	mu     sync.Mutex
	token  string
	record []byte
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{}
}

// NewMemoryWithToken returns a repository that already holds token, as if a previous
// process had persisted it.
func NewMemoryWithToken(token string) *Memory {
	return &Memory{token: token}
}

func (m *Memory) Get(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", ErrNotFound
	}
	return m.token, nil
}

func (m *Memory) Set(_ context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.record = nil
	m.mu.Unlock()
	return nil
}

func (m *Memory) CompareAndClear(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || m.token != token {
		return false, nil
	}
	m.token = ""
	m.record = nil
	return true, nil
}

func (m *Memory) GetRecord(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return nil, ErrNotFound
	}
	return cloneBytes(m.record), nil
}

func (m *Memory) SetRecord(_ context.Context, data []byte) error {
	m.mu.Lock()
	m.record = cloneBytes(data)
	m.mu.Unlock()
	return nil
}
