package noncestore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store (dev/tests).
type MemoryStore struct {
	mu      sync.Mutex
	byNonce map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byNonce: make(map[string]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byNonce[rec.Nonce]; ok {
		return ErrDuplicateNonce
	}
	s.byNonce[rec.Nonce] = rec
	return nil
}

func (s *MemoryStore) FindByStateHash(_ context.Context, hash string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.byNonce {
		if rec.StateHash == hash {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (s *MemoryStore) FindByNonce(_ context.Context, nonce string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byNonce[nonce]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Exists(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byNonce[nonce]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byNonce[nonce]
	delete(s.byNonce, nonce)
	return ok, nil
}

func (s *MemoryStore) PurgeOlderThan(_ context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for nonce, rec := range s.byNonce {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.byNonce, nonce)
			n++
		}
	}
	return n, nil
}
