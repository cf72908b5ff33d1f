// Package store defines the persistence contract shared by the operation
// lifecycle, the lock coordinator and the idempotency extension.
//
// Operation records, lock records and idempotency records are all
// key/value entries with a CAS counter and a TTL. Key namespaces are
// disjoint (op:<id> vs lock:<key>). Every mutating method is atomic, a
// compare-and-swap style write that reports whether it took effect rather
// than failing loudly, callers translate a false result into their own
// typed error.
package store

import (
	"context"

	"github.com/fulcrumhq/fulcrum/pkg/idempotency"
	"github.com/fulcrumhq/fulcrum/pkg/lock"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

type Store interface {
	Operations
	Locks
	IdempotencyRecords

	// DeleteExpired removes operation, lock and idempotency records whose
	// expiry is at or before t. Returns the number of records removed.
	DeleteExpired(ctx context.Context, t int64) (int64, error)

	Start() error
	Stop() error
	String() string
}

type Operations interface {
	// ReadOperation returns nil when there is no record for id.
	ReadOperation(ctx context.Context, id string) (*operation.OperationRecord, error)

	// CreateOperation inserts a fresh record, returns false when the id is
	// already taken.
	CreateOperation(ctx context.Context, rec *operation.OperationRecord) (bool, error)

	// UpdateOperation writes rec only if the stored CAS counter still
	// equals counter, bumping it by one. Returns false on a counter
	// mismatch or a missing record.
	UpdateOperation(ctx context.Context, rec *operation.OperationRecord, counter int64) (bool, error)

	// ListOperations returns records matching the query in descending
	// sort-id order.
	ListOperations(ctx context.Context, q *ListQuery) ([]*operation.OperationRecord, error)
}

type Locks interface {
	// ReadLock returns nil when there is no record for key, expired
	// records are returned as-is and judged by the caller.
	ReadLock(ctx context.Context, key string) (*lock.LockRecord, error)

	// AcquireLock installs rec only if the key is absent, expired at
	// rec.AcquiredAt, or already held by rec.Owner. Returns false when a
	// live lock with a different owner exists.
	AcquireLock(ctx context.Context, rec *lock.LockRecord) (bool, error)

	// ReleaseLock deletes the lock only if owner matches, returns false
	// otherwise.
	ReleaseLock(ctx context.Context, key string, owner string) (bool, error)

	// ForceReleaseLock deletes the lock regardless of owner, returns false
	// when there was nothing to delete.
	ForceReleaseLock(ctx context.Context, key string) (bool, error)
}

type IdempotencyRecords interface {
	// ReadIdempotencyRecord returns nil when there is no record.
	ReadIdempotencyRecord(ctx context.Context, key idempotency.Key, function string, version string) (*idempotency.Record, error)

	// WriteIdempotencyRecord inserts the record, replacing an entry for
	// (key, function, version) only if it expired at or before
	// rec.CachedOn. Returns false when a live entry already exists.
	WriteIdempotencyRecord(ctx context.Context, rec *idempotency.Record) (bool, error)
}

type ListQuery struct {
	Owner    string
	States   operation.Status
	Function string
	Limit    int
	SortId   *int64
}
