// Package coordinator provides named mutual exclusion with ownership
// tokens and TTL, on top of the store's conditional upsert. At most one
// live owner exists per key, a crashed holder self-heals once its TTL
// elapses.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store"
	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/util"
	"github.com/fulcrumhq/fulcrum/pkg/lock"
	"github.com/google/uuid"
)

// keyPattern bounds lock keys: 1-255 chars, restricted charset, slash
// and colon allowed for scoping (e.g. "fn/report:lock").
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9\-_:./]{1,255}$`)

type Config struct {
	MaxTtl time.Duration `mapstructure:"maxTtl"`
}

type Coordinator struct {
	store  store.Store
	config *Config

	// time returns the current unix ms, injectable for tests.
	time func() int64
}

func New(s store.Store, config *Config) *Coordinator {
	return &Coordinator{
		store:  s,
		config: config,
		time:   func() int64 { return time.Now().UnixMilli() },
	}
}

// WithClock overrides the coordinator's clock, for tests.
func (c *Coordinator) WithClock(now func() int64) *Coordinator {
	c.time = now
	return c
}

// Acquire atomically installs a lock for key if it is absent or expired
// and returns a fresh owner token. A live lock held by someone else
// yields StatusLockBusy.
func (c *Coordinator) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lock, *t_api.Error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := validateTtl(ttl, c.config.MaxTtl); err != nil {
		return nil, err
	}

	now := c.time()
	rec := &lock.LockRecord{
		Key:        key,
		Owner:      uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now + ttl.Milliseconds(),
	}

	ok, err := c.store.AcquireLock(ctx, rec)
	if err != nil {
		slog.Error("failed to acquire lock", "key", key, "err", err)
		return nil, t_api.NewError(t_api.StatusStoreError, err)
	}

	if !ok {
		return nil, t_api.NewError(t_api.StatusLockBusy, nil)
	}

	l, err := rec.Lock()
	if err != nil {
		return nil, t_api.NewError(t_api.StatusStoreError, err)
	}
	return l, nil
}

// Release removes the lock only if owner matches. A missing lock or a
// mismatched owner returns false, never an error, so callers can release
// unconditionally on their cleanup paths.
func (c *Coordinator) Release(ctx context.Context, key string, owner string) (bool, *t_api.Error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	ok, err := c.store.ReleaseLock(ctx, key, owner)
	if err != nil {
		slog.Error("failed to release lock", "key", key, "err", err)
		return false, t_api.NewError(t_api.StatusStoreError, err)
	}

	return ok, nil
}

// ForceRelease removes the lock regardless of owner. Authorization is
// the caller's responsibility, this is mechanism, not policy.
func (c *Coordinator) ForceRelease(ctx context.Context, key string) (bool, *t_api.Error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	ok, err := c.store.ForceReleaseLock(ctx, key)
	if err != nil {
		slog.Error("failed to force release lock", "key", key, "err", err)
		return false, t_api.NewError(t_api.StatusStoreError, err)
	}

	return ok, nil
}

// Status reports the lock state without mutating it. An expired record
// reads as unlocked.
func (c *Coordinator) Status(ctx context.Context, key string) (*lock.Status, *t_api.Error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	rec, err := c.store.ReadLock(ctx, key)
	if err != nil {
		slog.Error("failed to read lock", "key", key, "err", err)
		return nil, t_api.NewError(t_api.StatusStoreError, err)
	}

	if rec == nil || rec.Expired(c.time()) {
		return &lock.Status{Locked: false}, nil
	}

	return &lock.Status{
		Locked:     true,
		Owner:      rec.Owner,
		AcquiredAt: util.ToPointer(rec.AcquiredAt),
		ExpiresAt:  util.ToPointer(rec.ExpiresAt),
	}, nil
}

func validateKey(key string) *t_api.Error {
	if !keyPattern.MatchString(key) {
		return t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("invalid lock key '%s'", key))
	}
	return nil
}

func validateTtl(ttl time.Duration, max time.Duration) *t_api.Error {
	if ttl <= 0 {
		return t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("ttl must be positive, got %s", ttl))
	}
	if ttl > max {
		return t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("ttl %s exceeds maximum %s", ttl, max))
	}
	return nil
}
