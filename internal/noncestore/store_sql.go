package noncestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists records in the nonce_state table. Uniqueness is
// enforced by the primary key, so concurrent Puts for the same nonce
// cannot both succeed.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nonce_state (nonce, state_hash, state_token, storage_target, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		rec.Nonce, rec.StateHash, rec.StateToken, rec.StorageTarget, created.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateNonce
		}
		return fmt.Errorf("noncestore: put: %w", err)
	}
	return nil
}

func (s *SQLStore) FindByStateHash(ctx context.Context, hash string) (Record, error) {
	return s.findBy(ctx, `state_hash`, hash)
}

func (s *SQLStore) FindByNonce(ctx context.Context, nonce string) (Record, error) {
	return s.findBy(ctx, `nonce`, nonce)
}

func (s *SQLStore) findBy(ctx context.Context, column, value string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT nonce, state_hash, state_token, storage_target, created_at
		 FROM nonce_state WHERE `+column+` = $1`, value)
	var rec Record
	var created int64
	err := row.Scan(&rec.Nonce, &rec.StateHash, &rec.StateToken, &rec.StorageTarget, &created)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("noncestore: find: %w", err)
	}
	rec.CreatedAt = time.Unix(created, 0)
	return rec, nil
}

func (s *SQLStore) Exists(ctx context.Context, nonce string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM nonce_state WHERE nonce = $1`, nonce).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("noncestore: exists: %w", err)
	}
	return true, nil
}

func (s *SQLStore) Delete(ctx context.Context, nonce string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nonce_state WHERE nonce = $1`, nonce)
	if err != nil {
		return false, fmt.Errorf("noncestore: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM nonce_state WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("noncestore: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// isUniqueViolation matches the constraint errors of both supported
// drivers without importing their error types here.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres 23505
}
