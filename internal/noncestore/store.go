// Package noncestore tracks the nonce/state pairs minted at login
// initiation. A nonce is single use: it is written once, consumed by the
// first successful launch validation, and swept once it ages out.
package noncestore

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateNonce is returned by Put when the nonce already exists.
var ErrDuplicateNonce = errors.New("noncestore: duplicate nonce")

// ErrNotFound is returned by the lookup calls when no record matches.
var ErrNotFound = errors.New("noncestore: not found")

// Record ties a single-use nonce to the hash of the state token issued with
// it, plus the literal token and an optional cookie-storage-target hint.
type Record struct {
	Nonce         string
	StateHash     string
	StateToken    string
	StorageTarget string
	CreatedAt     time.Time
}

type Store interface {
	// Put stores a new record; ErrDuplicateNonce if the nonce exists.
	Put(ctx context.Context, rec Record) error
	FindByStateHash(ctx context.Context, hash string) (Record, error)
	FindByNonce(ctx context.Context, nonce string) (Record, error)
	Exists(ctx context.Context, nonce string) (bool, error)
	// Delete is idempotent; the bool reports whether this call removed the
	// record, so concurrent consumers of one nonce can tell which of them
	// won.
	Delete(ctx context.Context, nonce string) (bool, error)
	// PurgeOlderThan removes records created before now-age and reports how
	// many were removed.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
