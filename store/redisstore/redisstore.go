/*
redisstore - Redis-backed invoice numbering and run lock

PURPOSE:
  Lets several engine processes share one account's number sequence and
  serializes finalized invoice runs across them. SQLite remains the
  system of record for invoices; Redis only holds counters and locks.

KEYS:
  invoice-seq:{account}:{year}   last number handed out for the year
  invoice-run:{account}          lock held for the duration of a finalized run

SEEDING:
  A counter that does not exist yet (or trails the seed) starts from the
  seed computed from existing invoice numbers, so moving an account from
  SQLite numbering to Redis never re-issues a number.

SEE ALSO:
  - invoicing/numbering.go: NumberSource contract
  - invoicing/engine.go: Locker contract
  - store/sqlite/sequence.go: the single-process equivalent
*/
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/invoice-engine/billing"
)

// DefaultLockTTL bounds how long a crashed run can block its account.
const DefaultLockTTL = 5 * time.Minute

// Options configures the client connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Store implements invoicing.NumberSource and invoicing.Locker.
type Store struct {
	rdb     redis.UniversalClient
	locker  *redislock.Client
	lockTTL time.Duration
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return New(rdb, opts.LockTTL), nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Store{rdb: rdb, locker: redislock.New(rdb), lockTTL: lockTTL}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// =============================================================================
// INVOICE NUMBERS
// =============================================================================

func sequenceKey(accountID billing.AccountID, year int) string {
	return fmt.Sprintf("invoice-seq:%d:%d", accountID, year)
}

// reserveScript raises the counter to the seed if needed, then adds n.
// It returns the first reserved number.
var reserveScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local seed = tonumber(ARGV[2])
if cur < seed then cur = seed end
local last = cur + tonumber(ARGV[1])
redis.call("SET", KEYS[1], last)
return cur + 1
`)

func (s *Store) PeekInvoiceNumber(ctx context.Context, accountID billing.AccountID, year int, seed int64) (int64, error) {
	cur, err := s.rdb.Get(ctx, sequenceKey(accountID, year)).Int64()
	if errors.Is(err, redis.Nil) {
		cur = 0
	} else if err != nil {
		return 0, fmt.Errorf("peek invoice number: %w", err)
	}
	return max(cur, seed) + 1, nil
}

func (s *Store) ReserveInvoiceNumbers(ctx context.Context, accountID billing.AccountID, year, n int, seed int64) (int64, error) {
	if n < 1 {
		return 0, fmt.Errorf("reserve invoice numbers: n must be positive, got %d", n)
	}
	first, err := reserveScript.Run(ctx, s.rdb, []string{sequenceKey(accountID, year)}, n, seed).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve invoice numbers: %w", err)
	}
	return first, nil
}

// =============================================================================
// RUN LOCK
// =============================================================================

func lockKey(accountID billing.AccountID) string {
	return fmt.Sprintf("invoice-run:%d", accountID)
}

// Lock obtains the account's run lock without retrying.
func (s *Store) Lock(ctx context.Context, accountID billing.AccountID) (func(context.Context) error, error) {
	lock, err := s.locker.Obtain(ctx, lockKey(accountID), s.lockTTL, &redislock.Options{
		Token:    uuid.NewString(),
		Metadata: time.Now().UTC().Format(time.RFC3339),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, billing.ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("obtain run lock: %w", err)
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// TTL expired mid-run; someone else may hold it now.
			return nil
		}
		return err
	}, nil
}
