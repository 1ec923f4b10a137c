package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/store/redisstore"
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := redisstore.New(rdb, time.Minute)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestReserveInvoiceNumbers_SeedsAndAdvances(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	// GIVEN: Existing invoices already used numbers up to 41
	peek, err := s.PeekInvoiceNumber(ctx, 1, 2026, 41)
	require.NoError(t, err)
	assert.Equal(t, int64(42), peek)

	// WHEN: Reserving three numbers, then one more
	first, err := s.ReserveInvoiceNumbers(ctx, 1, 2026, 3, 41)
	require.NoError(t, err)
	next, err := s.ReserveInvoiceNumbers(ctx, 1, 2026, 1, 41)
	require.NoError(t, err)

	// THEN: Blocks never overlap
	assert.Equal(t, int64(42), first)
	assert.Equal(t, int64(45), next)
	stored, err := mr.Get("invoice-seq:1:2026")
	require.NoError(t, err)
	assert.Equal(t, "45", stored)

	// AND: Peek does not consume
	peek, err = s.PeekInvoiceNumber(ctx, 1, 2026, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(46), peek)
}

func TestReserveInvoiceNumbers_KeysPerAccountAndYear(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.ReserveInvoiceNumbers(ctx, 1, 2026, 5, 0)
	require.NoError(t, err)

	other, err := s.ReserveInvoiceNumbers(ctx, 2, 2026, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	nextYear, err := s.ReserveInvoiceNumbers(ctx, 1, 2027, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), nextYear)

	_, err = s.ReserveInvoiceNumbers(ctx, 1, 2026, 0, 0)
	assert.Error(t, err)
}

func TestReserveInvoiceNumbers_SeedAboveCounterWins(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	require.NoError(t, mr.Set("invoice-seq:1:2026", "3"))

	first, err := s.ReserveInvoiceNumbers(ctx, 1, 2026, 1, 10)

	require.NoError(t, err)
	assert.Equal(t, int64(11), first)
}

func TestLock_SecondRunIsRefused(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	// GIVEN: A run holds account 1
	release, err := s.Lock(ctx, 1)
	require.NoError(t, err)

	// WHEN: Another run starts for the same account
	_, err = s.Lock(ctx, 1)

	// THEN: It fails fast
	assert.ErrorIs(t, err, billing.ErrRunInProgress)

	// AND: Other accounts are unaffected
	releaseOther, err := s.Lock(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, releaseOther(ctx))

	// AND: Releasing frees the account
	require.NoError(t, release(ctx))
	again, err := s.Lock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLock_ExpiredLockReleasesQuietly(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	release, err := s.Lock(ctx, 1)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	assert.NoError(t, release(ctx))
}
