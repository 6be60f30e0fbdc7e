package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"corecompliance/pkg/platform/sentinel"
)

// InMemoryStore keeps evidence content in memory. Intended for tests and
// local development; it intentionally favors clarity over performance.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string][]byte)}
}

// Put stores content under a fresh locator. Same-named uploads get distinct
// locators, matching the local-disk store.
func (s *InMemoryStore) Put(_ context.Context, name string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("read evidence content: %w", err)
	}
	locator := uuid.NewString() + "_" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[locator] = data
	return locator, nil
}

func (s *InMemoryStore) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[locator]
	if !ok {
		return nil, fmt.Errorf("evidence %q: %w", locator, sentinel.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
