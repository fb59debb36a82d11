package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// SQLOneUseStore backs OneUseStore with the one_use_tokens table. The
// token id is the primary key, so Consume's DELETE is the atomic
// first-caller-wins check.
type SQLOneUseStore struct {
	db *sql.DB
}

func NewSQLOneUseStore(db *sql.DB) *SQLOneUseStore { return &SQLOneUseStore{db: db} }

func (s *SQLOneUseStore) Add(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO one_use_tokens (token, created_at) VALUES ($1, $2)`,
		id, at.Unix())
	if err != nil {
		return fmt.Errorf("session: add one-use token: %w", err)
	}
	return nil
}

func (s *SQLOneUseStore) Consume(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM one_use_tokens WHERE token = $1`, id)
	if err != nil {
		return false, fmt.Errorf("session: consume one-use token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("session: consume one-use token: %w", err)
	}
	return n == 1, nil
}

func (s *SQLOneUseStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Unix()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM one_use_tokens WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: purge one-use tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: purge one-use tokens: %w", err)
	}
	return n, nil
}

// MemoryOneUseStore is the process-local variant for dev and tests.
type MemoryOneUseStore struct {
	mu     sync.Mutex
	issued map[string]time.Time
}

func NewMemoryOneUseStore() *MemoryOneUseStore {
	return &MemoryOneUseStore{issued: make(map[string]time.Time)}
}

func (s *MemoryOneUseStore) Add(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[id] = at
	return nil
}

func (s *MemoryOneUseStore) Consume(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issued[id]; !ok {
		return false, nil
	}
	delete(s.issued, id)
	return true, nil
}

func (s *MemoryOneUseStore) PurgeOlderThan(_ context.Context, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-age)
	var n int64
	for id, at := range s.issued {
		if at.Before(cutoff) {
			delete(s.issued, id)
			n++
		}
	}
	return n, nil
}
