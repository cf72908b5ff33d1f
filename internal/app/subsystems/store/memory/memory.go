// Package memory provides the reference in-memory store, used by dev
// mode and unit tests. Semantics mirror the sqlite store byte for byte,
// minus durability.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store"
	"github.com/fulcrumhq/fulcrum/pkg/idempotency"
	"github.com/fulcrumhq/fulcrum/pkg/lock"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

type Store struct {
	mu sync.Mutex

	operations  map[string]*operation.OperationRecord
	locks       map[string]*lock.LockRecord
	idempotency map[ikey]*idempotency.Record
	sortId      int64
}

type ikey struct {
	key      idempotency.Key
	function string
	version  string
}

func New() *Store {
	return &Store{
		operations:  map[string]*operation.OperationRecord{},
		locks:       map[string]*lock.LockRecord{},
		idempotency: map[ikey]*idempotency.Record{},
	}
}

func (s *Store) Start() error { return nil }

func (s *Store) Stop() error { return nil }

func (s *Store) String() string { return "store:memory" }

// Operations

func (s *Store) ReadOperation(ctx context.Context, id string) (*operation.OperationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.operations[id]
	if !ok {
		return nil, nil
	}

	copied := *rec
	return &copied, nil
}

func (s *Store) CreateOperation(ctx context.Context, rec *operation.OperationRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.operations[rec.Id]; ok {
		return false, nil
	}

	s.sortId++

	copied := *rec
	copied.Counter = 1
	copied.SortId = s.sortId
	s.operations[rec.Id] = &copied

	return true, nil
}

func (s *Store) UpdateOperation(ctx context.Context, rec *operation.OperationRecord, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.operations[rec.Id]
	if !ok || stored.Counter != counter {
		return false, nil
	}

	copied := *rec
	copied.Counter = counter + 1
	copied.SortId = stored.SortId
	s.operations[rec.Id] = &copied

	return true, nil
}

func (s *Store) ListOperations(ctx context.Context, q *store.ListQuery) ([]*operation.OperationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*operation.OperationRecord
	for _, rec := range s.operations {
		if rec.OwnerId != q.Owner {
			continue
		}
		if q.States != 0 && !rec.Status.In(q.States) {
			continue
		}
		if q.Function != "" && rec.Function != q.Function {
			continue
		}
		if q.SortId != nil && rec.SortId >= *q.SortId {
			continue
		}

		copied := *rec
		records = append(records, &copied)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SortId > records[j].SortId
	})

	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}

	return records, nil
}

// Locks

func (s *Store) ReadLock(ctx context.Context, key string) (*lock.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.locks[key]
	if !ok {
		return nil, nil
	}

	copied := *rec
	return &copied, nil
}

func (s *Store) AcquireLock(ctx context.Context, rec *lock.LockRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.locks[rec.Key]
	if ok && !stored.Expired(rec.AcquiredAt) && stored.Owner != rec.Owner {
		return false, nil
	}

	copied := *rec
	s.locks[rec.Key] = &copied

	return true, nil
}

func (s *Store) ReleaseLock(ctx context.Context, key string, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.locks[key]
	if !ok || stored.Owner != owner {
		return false, nil
	}

	delete(s.locks, key)
	return true, nil
}

func (s *Store) ForceReleaseLock(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locks[key]; !ok {
		return false, nil
	}

	delete(s.locks, key)
	return true, nil
}

// Idempotency records

func (s *Store) ReadIdempotencyRecord(ctx context.Context, key idempotency.Key, function string, version string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.idempotency[ikey{key, function, version}]
	if !ok {
		return nil, nil
	}

	copied := *rec
	return &copied, nil
}

func (s *Store) WriteIdempotencyRecord(ctx context.Context, rec *idempotency.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := ikey{rec.Key, rec.Function, rec.Version}
	if stored, ok := s.idempotency[k]; ok && !stored.Expired(rec.CachedOn) {
		return false, nil
	}

	copied := *rec
	s.idempotency[k] = &copied

	return true, nil
}

// Retention

func (s *Store) DeleteExpired(ctx context.Context, t int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.operations {
		if rec.ExpiresAt <= t {
			delete(s.operations, id)
			n++
		}
	}
	for key, rec := range s.locks {
		if rec.ExpiresAt <= t {
			delete(s.locks, key)
			n++
		}
	}
	for k, rec := range s.idempotency {
		if rec.ExpiresAt <= t {
			delete(s.idempotency, k)
			n++
		}
	}

	return n, nil
}
