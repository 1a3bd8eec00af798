package state

import (
	"context"
	"sync"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

// MemoryBackend is the shared backing map of a MemoryFactory. Constructing a
// fresh factory over the same backend simulates a process restart against a
// durable store; values survive factory lifetimes.
type MemoryBackend struct {
	mu   sync.Mutex
	runs map[string]map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{runs: map[string]map[string][]byte{}}
}

// MemoryFactory hands out in-memory run stores for tests and the demo wiring.
type MemoryFactory struct {
	backend *MemoryBackend
}

func NewMemoryFactory(backend *MemoryBackend) *MemoryFactory {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &MemoryFactory{backend: backend}
}

func (f *MemoryFactory) ForRun(runID string) Store {
	return &memoryStore{backend: f.backend, runID: runID}
}

type memoryStore struct {
	backend *MemoryBackend
	runID   string
}

func (s *memoryStore) bucket() map[string][]byte {
	bucket, ok := s.backend.runs[s.runID]
	if !ok {
		bucket = map[string][]byte{}
		s.backend.runs[s.runID] = bucket
	}
	return bucket
}

func (s *memoryStore) Get(_ context.Context, key string) (any, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	raw, ok := s.bucket()[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return decodeValue(raw)
}

func (s *memoryStore) Set(_ context.Context, key string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.bucket()[key] = raw
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.bucket(), key)
	return nil
}

func (s *memoryStore) Update(_ context.Context, values domain.Metadata) error {
	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		raw, err := encodeValue(v)
		if err != nil {
			return err
		}
		encoded[k] = raw
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	bucket := s.bucket()
	for k, raw := range encoded {
		bucket[k] = raw
	}
	return nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.backend.runs, s.runID)
	return nil
}

func (s *memoryStore) Keys(_ context.Context) ([]string, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	bucket := s.bucket()
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *memoryStore) Export(_ context.Context) (domain.Metadata, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	bucket := s.bucket()
	out := make(domain.Metadata, len(bucket))
	for k, raw := range bucket {
		value, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		out[k] = value
	}
	return out, nil
}
