package blob

import (
	"context"
	"sync"
)

// Memory is an in-memory Store for tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[Ref][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[Ref][]byte)}
}

func (m *Memory) Put(_ context.Context, data []byte, contentType string) (Ref, error) {
	ct, err := checkContent(data, contentType)
	if err != nil {
		return "", err
	}
	ref := newRef(ct)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (m *Memory) Get(_ context.Context, ref Ref) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), data...), contentTypeOf(ref), nil
}
