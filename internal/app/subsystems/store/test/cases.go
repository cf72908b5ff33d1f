// Package test holds the conformance suite every store implementation
// must pass. The memory, sqlite and postgres tests all run the same
// cases against their own instance.
package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store"
	"github.com/fulcrumhq/fulcrum/pkg/idempotency"
	"github.com/fulcrumhq/fulcrum/pkg/lock"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

// Run executes the conformance suite, calling factory for a fresh store
// per case.
func Run(t *testing.T, factory func(t *testing.T) store.Store) {
	for name, run := range map[string]func(*testing.T, store.Store){
		"OperationRoundTrip":     testOperationRoundTrip,
		"OperationDuplicate":     testOperationDuplicate,
		"OperationCasUpdate":     testOperationCasUpdate,
		"OperationList":          testOperationList,
		"LockLifecycle":          testLockLifecycle,
		"LockRelease":            testLockRelease,
		"IdempotencyRecords":     testIdempotencyRecords,
		"IdempotencyExpiredSlot": testIdempotencyExpiredSlot,
		"DeleteExpired":          testDeleteExpired,
	} {
		t.Run(name, func(t *testing.T) {
			run(t, factory(t))
		})
	}
}

func newRecord(id string, owner string, status operation.Status, expiresAt int64) *operation.OperationRecord {
	return &operation.OperationRecord{
		Id:        id,
		Function:  "render",
		FnVersion: "1",
		Status:    status,
		OwnerId:   owner,
		CreatedOn: 1000,
		ExpiresAt: expiresAt,
	}
}

func testOperationRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	missing, err := s.ReadOperation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err := s.CreateOperation(ctx, newRecord("op-1", "alice", operation.Pending, 5000))
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.ReadOperation(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "op-1", rec.Id)
	assert.Equal(t, "render", rec.Function)
	assert.Equal(t, "1", rec.FnVersion)
	assert.Equal(t, operation.Pending, rec.Status)
	assert.Equal(t, "alice", rec.OwnerId)
	assert.Equal(t, int64(1000), rec.CreatedOn)
	assert.Equal(t, int64(5000), rec.ExpiresAt)
	assert.Equal(t, int64(1), rec.Counter)
	assert.Positive(t, rec.SortId)
}

func testOperationDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.CreateOperation(ctx, newRecord("op-1", "alice", operation.Pending, 5000))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CreateOperation(ctx, newRecord("op-1", "bob", operation.Pending, 5000))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testOperationCasUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.CreateOperation(ctx, newRecord("op-1", "alice", operation.Pending, 5000))
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.ReadOperation(ctx, "op-1")
	require.NoError(t, err)

	startedOn := int64(1500)
	rec.Status = operation.Processing
	rec.StartedOn = &startedOn

	ok, err = s.UpdateOperation(ctx, rec, rec.Counter)
	require.NoError(t, err)
	require.True(t, ok)

	updated, err := s.ReadOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, operation.Processing, updated.Status)
	assert.Equal(t, int64(2), updated.Counter)
	require.NotNil(t, updated.StartedOn)
	assert.Equal(t, startedOn, *updated.StartedOn)

	// a stale counter writes nothing
	ok, err = s.UpdateOperation(ctx, rec, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	stale, err := s.ReadOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stale.Counter)

	// missing record writes nothing
	ok, err = s.UpdateOperation(ctx, newRecord("op-2", "alice", operation.Pending, 5000), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testOperationList(t *testing.T, s store.Store) {
	ctx := context.Background()

	for _, rec := range []*operation.OperationRecord{
		newRecord("a-1", "alice", operation.Pending, 5000),
		newRecord("a-2", "alice", operation.Processing, 5000),
		newRecord("a-3", "alice", operation.Completed, 5000),
		newRecord("b-1", "bob", operation.Pending, 5000),
	} {
		ok, err := s.CreateOperation(ctx, rec)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// newest first, owner scoped
	records, err := s.ListOperations(ctx, &store.ListQuery{Owner: "alice", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a-3", records[0].Id)
	assert.Equal(t, "a-2", records[1].Id)
	assert.Equal(t, "a-1", records[2].Id)

	// states are a mask
	records, err = s.ListOperations(ctx, &store.ListQuery{Owner: "alice", States: operation.Pending | operation.Processing, Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)

	// function filter
	rec := newRecord("a-4", "alice", operation.Pending, 5000)
	rec.Function = "transcode"
	ok, err := s.CreateOperation(ctx, rec)
	require.NoError(t, err)
	require.True(t, ok)

	records, err = s.ListOperations(ctx, &store.ListQuery{Owner: "alice", Function: "transcode", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a-4", records[0].Id)

	// pagination resumes strictly below the cursor
	records, err = s.ListOperations(ctx, &store.ListQuery{Owner: "alice", Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)

	cursor := records[1].SortId
	records, err = s.ListOperations(ctx, &store.ListQuery{Owner: "alice", Limit: 10, SortId: &cursor})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a-2", records[0].Id)
	assert.Equal(t, "a-1", records[1].Id)
}

func testLockLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, &lock.LockRecord{Key: "k", Owner: "o1", AcquiredAt: 1000, ExpiresAt: 2000})
	require.NoError(t, err)
	require.True(t, ok)

	// live lock, different owner
	ok, err = s.AcquireLock(ctx, &lock.LockRecord{Key: "k", Owner: "o2", AcquiredAt: 1500, ExpiresAt: 2500})
	require.NoError(t, err)
	assert.False(t, ok)

	// same owner extends
	ok, err = s.AcquireLock(ctx, &lock.LockRecord{Key: "k", Owner: "o1", AcquiredAt: 1500, ExpiresAt: 3000})
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.ReadLock(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "o1", rec.Owner)
	assert.Equal(t, int64(3000), rec.ExpiresAt)

	// expired lock is up for grabs
	ok, err = s.AcquireLock(ctx, &lock.LockRecord{Key: "k", Owner: "o2", AcquiredAt: 3000, ExpiresAt: 4000})
	require.NoError(t, err)
	require.True(t, ok)

	rec, err = s.ReadLock(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "o2", rec.Owner)
}

func testLockRelease(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.ReleaseLock(ctx, "k", "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AcquireLock(ctx, &lock.LockRecord{Key: "k", Owner: "o1", AcquiredAt: 1000, ExpiresAt: 2000})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ReleaseLock(ctx, "k", "o2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ReleaseLock(ctx, "k", "o1")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := s.ReadLock(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, rec)

	ok, err = s.ForceReleaseLock(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AcquireLock(ctx, &lock.LockRecord{Key: "k", Owner: "o1", AcquiredAt: 1000, ExpiresAt: 2000})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ForceReleaseLock(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testIdempotencyRecords(t *testing.T, s store.Store) {
	ctx := context.Background()

	missing, err := s.ReadIdempotencyRecord(ctx, "key", "render", "1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err := s.WriteIdempotencyRecord(ctx, &idempotency.Record{
		Key:           "key",
		Function:      "render",
		Version:       "1",
		ArgumentsHash: "abc",
		Response:      []byte(`{"status":2000}`),
		CachedOn:      1000,
		ExpiresAt:     5000,
	})
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.ReadIdempotencyRecord(ctx, "key", "render", "1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "abc", rec.ArgumentsHash)
	assert.Equal(t, []byte(`{"status":2000}`), rec.Response)

	// a live record keeps its slot
	ok, err = s.WriteIdempotencyRecord(ctx, &idempotency.Record{
		Key:           "key",
		Function:      "render",
		Version:       "1",
		ArgumentsHash: "def",
		CachedOn:      2000,
		ExpiresAt:     6000,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// different version is a different slot
	ok, err = s.WriteIdempotencyRecord(ctx, &idempotency.Record{
		Key:           "key",
		Function:      "render",
		Version:       "2",
		ArgumentsHash: "def",
		CachedOn:      2000,
		ExpiresAt:     6000,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func testIdempotencyExpiredSlot(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.WriteIdempotencyRecord(ctx, &idempotency.Record{
		Key:           "key",
		Function:      "render",
		Version:       "1",
		ArgumentsHash: "abc",
		Response:      []byte(`"old"`),
		CachedOn:      1000,
		ExpiresAt:     2000,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// a write at or after the expiry takes over the slot
	ok, err = s.WriteIdempotencyRecord(ctx, &idempotency.Record{
		Key:           "key",
		Function:      "render",
		Version:       "1",
		ArgumentsHash: "def",
		Response:      []byte(`"new"`),
		CachedOn:      2000,
		ExpiresAt:     6000,
	})
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.ReadIdempotencyRecord(ctx, "key", "render", "1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "def", rec.ArgumentsHash)
	assert.Equal(t, []byte(`"new"`), rec.Response)
	assert.Equal(t, int64(6000), rec.ExpiresAt)
}

func testDeleteExpired(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.CreateOperation(ctx, newRecord("op-old", "alice", operation.Completed, 1000))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.CreateOperation(ctx, newRecord("op-new", "alice", operation.Pending, 9000))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireLock(ctx, &lock.LockRecord{Key: "k-old", Owner: "o1", AcquiredAt: 500, ExpiresAt: 1000})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.WriteIdempotencyRecord(ctx, &idempotency.Record{Key: "key", Function: "render", Version: "1", CachedOn: 500, ExpiresAt: 1000})
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.DeleteExpired(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rec, err := s.ReadOperation(ctx, "op-old")
	require.NoError(t, err)
	assert.Nil(t, rec)
	surviving, err := s.ReadOperation(ctx, "op-new")
	require.NoError(t, err)
	assert.NotNil(t, surviving)
}
