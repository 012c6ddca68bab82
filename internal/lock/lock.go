// Package lock provides the distributed locks that keep a send from being
// processed by two instances at once and elect a single scheduler sweeper.
package lock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is held by one process at a time. A Lock value is not safe for
// concurrent use; create one per critical section.
type Lock interface {
	// Acquire tries to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if it is still ours.
	Release(ctx context.Context) error
	// Extend keeps a held lock alive for another ttl. ErrNotHeld means
	// ownership is gone and the critical section must stop.
	Extend(ctx context.Context, ttl time.Duration) error
}

// Provider hands out locks by key.
type Provider interface {
	NewLock(key string, ttl time.Duration) Lock
}

// Backend picks Redis when a client is configured and falls back to
// Postgres advisory locks otherwise.
type Backend struct {
	Redis *redis.Client
	DB    *sql.DB
}

func (b *Backend) NewLock(key string, ttl time.Duration) Lock {
	if b.Redis != nil {
		return NewRedisLock(b.Redis, key, ttl)
	}
	return NewPGAdvisoryLock(b.DB, key)
}

var _ Provider = (*Backend)(nil)

// RedisLock is SET NX with a TTL and a random owner token.
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &RedisLock{
		client: client,
		key:    "lock:" + key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

var ErrNotHeld = errors.New("lock not held")

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks are bound to a
// session, so the connection is pinned between Acquire and Release.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, errors.New("advisory lock already acquired by this instance")
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}

// Extend has no TTL to push out; it checks the pinned session is still alive,
// since the server drops the lock with the session.
func (l *PGAdvisoryLock) Extend(ctx context.Context, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotHeld
	}
	if err := l.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotHeld, err)
	}
	return nil
}

var (
	_ Lock = (*RedisLock)(nil)
	_ Lock = (*PGAdvisoryLock)(nil)
)
