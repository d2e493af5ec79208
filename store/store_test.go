package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestHashRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "h", "a", "1"))
	v, ok, err := s.HGet(ctx, "h", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	require.NoError(t, s.HDel(ctx, "h", "a"))
	_, ok, err = s.HGet(ctx, "h", "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBRPopTimeout(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.BRPop(ctx, "nope", 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBRPopDelivers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LPush(ctx, "q", "x"))
	v, ok, err := s.BRPop(ctx, "q", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", v)
}

func TestTransactionRetriesOnConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "counter", "0"))

	attempts := 0
	err := s.Transaction(ctx, []string{"counter"}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		attempts++
		cur, _ := tx.Get(ctx, "counter").Result()
		if attempts == 1 {
			// simulate a concurrent writer sneaking in between WATCH and EXEC
			other := redis.NewClient(&redis.Options{Addr: tx.Options().Addr})
			defer other.Close()
			other.Set(ctx, "counter", "99", 0)
		}
		pipe.Set(ctx, "counter", cur+"x", 0)
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, attempts, 2)
}

func TestTransactionAbort(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	called := false
	err := s.Transaction(ctx, []string{"missing"}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		exists, _ := tx.Exists(ctx, "missing").Result()
		if exists == 0 {
			return ErrAbort
		}
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called)
}
