package noncestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/classbridge/classbridge-tool/internal/noncestore"
)

func TestPutAndLookups(t *testing.T) {
	ctx := context.Background()
	s := noncestore.NewMemoryStore()

	rec := noncestore.Record{
		Nonce:      "n-1",
		StateHash:  "h-1",
		StateToken: "tok-1",
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.Put(ctx, rec))

	byHash, err := s.FindByStateHash(ctx, "h-1")
	require.NoError(t, err)
	require.Equal(t, "n-1", byHash.Nonce)

	byNonce, err := s.FindByNonce(ctx, "n-1")
	require.NoError(t, err)
	require.Equal(t, "tok-1", byNonce.StateToken)

	ok, err := s.Exists(ctx, "n-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDuplicateNonceRejected(t *testing.T) {
	ctx := context.Background()
	s := noncestore.NewMemoryStore()

	require.NoError(t, s.Put(ctx, noncestore.Record{Nonce: "n-1", StateHash: "h-1"}))
	err := s.Put(ctx, noncestore.Record{Nonce: "n-1", StateHash: "h-2"})
	require.ErrorIs(t, err, noncestore.ErrDuplicateNonce)
}

func TestMissingLookups(t *testing.T) {
	ctx := context.Background()
	s := noncestore.NewMemoryStore()

	_, err := s.FindByStateHash(ctx, "nope")
	require.ErrorIs(t, err, noncestore.ErrNotFound)
	_, err = s.FindByNonce(ctx, "nope")
	require.ErrorIs(t, err, noncestore.ErrNotFound)

	ok, err := s.Exists(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := noncestore.NewMemoryStore()

	require.NoError(t, s.Put(ctx, noncestore.Record{Nonce: "n-1", StateHash: "h-1"}))

	deleted, err := s.Delete(ctx, "n-1")
	require.NoError(t, err)
	require.True(t, deleted)

	// Repeating is fine, but only the first delete removed anything.
	deleted, err = s.Delete(ctx, "n-1")
	require.NoError(t, err)
	require.False(t, deleted)

	ok, err := s.Exists(ctx, "n-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	s := noncestore.NewMemoryStore()

	require.NoError(t, s.Put(ctx, noncestore.Record{
		Nonce: "old", StateHash: "h-old", CreatedAt: time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, s.Put(ctx, noncestore.Record{
		Nonce: "fresh", StateHash: "h-fresh", CreatedAt: time.Now(),
	}))

	n, err := s.PurgeOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	ok, _ := s.Exists(ctx, "old")
	require.False(t, ok)
	ok, _ = s.Exists(ctx, "fresh")
	require.True(t, ok)
}
