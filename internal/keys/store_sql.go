package keys

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// SQLKeyStore backs StoredKeyStore with the stored_keys table.
type SQLKeyStore struct {
	db *sql.DB
}

func NewSQLKeyStore(db *sql.DB) *SQLKeyStore { return &SQLKeyStore{db: db} }

func (s *SQLKeyStore) GetPEM(ctx context.Context, kid string, isTool bool) (string, error) {
	var pem string
	err := s.db.QueryRowContext(ctx,
		`SELECT public_pem FROM stored_keys WHERE kid = $1 AND is_tool = $2`,
		kid, isTool).Scan(&pem)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("stored key not found: kid=%s tool=%t", kid, isTool)
	}
	if err != nil {
		return "", fmt.Errorf("keys: get stored key: %w", err)
	}
	return pem, nil
}

func (s *SQLKeyStore) PutPEM(ctx context.Context, kid string, isTool bool, pem string) error {
	// delete-then-insert keeps the statement portable across both drivers
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stored_keys WHERE kid = $1 AND is_tool = $2`, kid, isTool)
	if err != nil {
		return fmt.Errorf("keys: put stored key: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stored_keys (kid, is_tool, public_pem, created_at) VALUES ($1,$2,$3,$4)`,
		kid, isTool, pem, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("keys: put stored key: %w", err)
	}
	return nil
}

// MemoryKeyStore is a process-local StoredKeyStore (dev/tests).
type MemoryKeyStore struct {
	mu   sync.RWMutex
	pems map[string]string
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{pems: make(map[string]string)}
}

func memKey(kid string, isTool bool) string {
	if isTool {
		return kid + "|tool"
	}
	return kid + "|platform"
}

func (s *MemoryKeyStore) GetPEM(_ context.Context, kid string, isTool bool) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pem, ok := s.pems[memKey(kid, isTool)]
	if !ok {
		return "", fmt.Errorf("stored key not found: kid=%s tool=%t", kid, isTool)
	}
	return pem, nil
}

func (s *MemoryKeyStore) PutPEM(_ context.Context, kid string, isTool bool, pem string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pems[memKey(kid, isTool)] = pem
	return nil
}
