// Package lifecycle manages the async operation state machine against
// the store. Every transition is a read-modify-CAS-write loop with
// bounded retries and exponential backoff, two concurrent attempts on
// the same operation produce exactly one winner.
//
// Ownership is enforced before any mutation. "Not found" and "found but
// owned by someone else" are indistinguishable to the caller.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store"
	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/metrics"
	"github.com/fulcrumhq/fulcrum/internal/util"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
	"github.com/google/uuid"
)

type Config struct {
	MaxTtl          time.Duration `mapstructure:"maxTtl"`
	CasRetries      int           `mapstructure:"casRetries"`
	RetryBackoff    time.Duration `mapstructure:"retryBackoff"`
	RetryBackoffMax time.Duration `mapstructure:"retryBackoffMax"`
	ListLimit       int           `mapstructure:"listLimit"`
}

type Metadata struct {
	RequestId string
	Callback  string
}

type Lifecycle struct {
	store   store.Store
	metrics *metrics.Metrics
	config  *Config

	// time returns the current unix ms, sleep delays the caller. Both
	// injectable for tests.
	time  func() int64
	sleep func(time.Duration)
}

func New(s store.Store, m *metrics.Metrics, config *Config) *Lifecycle {
	return &Lifecycle{
		store:   s,
		metrics: m,
		config:  config,
		time:    func() int64 { return time.Now().UnixMilli() },
		sleep:   time.Sleep,
	}
}

// WithClock overrides the lifecycle's clock and sleep, for tests.
func (l *Lifecycle) WithClock(now func() int64, sleep func(time.Duration)) *Lifecycle {
	l.time = now
	l.sleep = sleep
	return l
}

// Create allocates a fresh operation in status Pending.
func (l *Lifecycle) Create(ctx context.Context, function string, version string, owner string, metadata Metadata, ttl time.Duration) (*operation.Operation, *t_api.Error) {
	if function == "" {
		return nil, t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("function must be provided"))
	}
	if owner == "" {
		return nil, t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("owner must be provided"))
	}
	if err := validateTtl(ttl, l.config.MaxTtl); err != nil {
		return nil, err
	}

	now := l.time()
	rec := &operation.OperationRecord{
		Id:        uuid.NewString(),
		Function:  function,
		FnVersion: version,
		Status:    operation.Pending,
		OwnerId:   owner,
		CreatedOn: now,
		ExpiresAt: now + ttl.Milliseconds(),
	}
	if metadata.RequestId != "" {
		rec.RequestId = util.ToPointer(metadata.RequestId)
	}
	if metadata.Callback != "" {
		rec.Callback = util.ToPointer(metadata.Callback)
	}

	ok, err := l.store.CreateOperation(ctx, rec)
	if err != nil {
		slog.Error("failed to create operation", "function", function, "err", err)
		return nil, t_api.NewError(t_api.StatusStoreError, err)
	}

	// ids carry 122 bits of entropy, a collision is a store defect
	util.Assert(ok, "operation id must be unique")

	rec.Counter = 1
	return toOperation(rec)
}

// MarkProcessing transitions Pending -> Processing and sets startedAt.
func (l *Lifecycle) MarkProcessing(ctx context.Context, id string, owner string, progress *float64) (*operation.Operation, *t_api.Error) {
	return l.transition(ctx, id, owner, func(rec *operation.OperationRecord, now int64) *t_api.Error {
		if rec.Status != operation.Pending {
			return transitionError(rec.Status)
		}

		if progress != nil {
			p, err := validProgress(*progress, rec.Progress)
			if err != nil {
				return err
			}
			rec.Progress = &p
		}

		rec.Status = operation.Processing
		rec.StartedOn = util.ToPointer(now)
		return nil
	})
}

// UpdateProgress records monotonically non-decreasing progress while the
// operation is non-terminal. The optional message is logged, not stored.
func (l *Lifecycle) UpdateProgress(ctx context.Context, id string, owner string, progress float64, message string) (*operation.Operation, *t_api.Error) {
	op, err := l.transition(ctx, id, owner, func(rec *operation.OperationRecord, now int64) *t_api.Error {
		if !rec.Status.In(operation.Pending | operation.Processing) {
			return transitionError(rec.Status)
		}

		p, err := validProgress(progress, rec.Progress)
		if err != nil {
			return err
		}

		rec.Progress = &p
		return nil
	})

	if err == nil && message != "" {
		slog.Debug("operation progress", "id", id, "progress", progress, "message", message)
	}

	return op, err
}

// Complete transitions Pending/Processing -> Completed with a result.
func (l *Lifecycle) Complete(ctx context.Context, id string, owner string, result *operation.Value) (*operation.Operation, *t_api.Error) {
	if result == nil {
		return nil, t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("result must be provided"))
	}

	return l.transition(ctx, id, owner, func(rec *operation.OperationRecord, now int64) *t_api.Error {
		if !rec.Status.In(operation.Pending | operation.Processing) {
			return transitionError(rec.Status)
		}

		headers, err := marshalHeaders(result.Headers)
		if err != nil {
			return t_api.NewError(t_api.StatusInternalError, err)
		}

		rec.Status = operation.Completed
		rec.ResultHeaders = headers
		rec.ResultData = result.Data
		rec.CompletedOn = util.ToPointer(now)
		return nil
	})
}

// Fail transitions Pending/Processing -> Failed with at least one error.
func (l *Lifecycle) Fail(ctx context.Context, id string, owner string, errs []operation.Error) (*operation.Operation, *t_api.Error) {
	if len(errs) == 0 {
		return nil, t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("errors must be provided"))
	}

	return l.transition(ctx, id, owner, func(rec *operation.OperationRecord, now int64) *t_api.Error {
		if !rec.Status.In(operation.Pending | operation.Processing) {
			return transitionError(rec.Status)
		}

		data, err := json.Marshal(errs)
		if err != nil {
			return t_api.NewError(t_api.StatusInternalError, err)
		}

		rec.Status = operation.Failed
		rec.Errors = data
		rec.CompletedOn = util.ToPointer(now)
		return nil
	})
}

// Cancel transitions Pending/Processing -> Cancelled. Cancellation is
// cooperative, an in-flight worker observes the flipped status via
// CancellationRequested before committing further progress.
func (l *Lifecycle) Cancel(ctx context.Context, id string, owner string) (*operation.Operation, *t_api.Error) {
	return l.transition(ctx, id, owner, func(rec *operation.OperationRecord, now int64) *t_api.Error {
		if !rec.Status.In(operation.Pending | operation.Processing) {
			return transitionError(rec.Status)
		}

		rec.Status = operation.Cancelled
		rec.CancelledOn = util.ToPointer(now)
		return nil
	})
}

// CancellationRequested reports whether the operation was cancelled, for
// workers polling between progress commits.
func (l *Lifecycle) CancellationRequested(ctx context.Context, id string, owner string) (bool, *t_api.Error) {
	op, err := l.Find(ctx, id, owner)
	if err != nil {
		return false, err
	}

	return op.Status == operation.Cancelled, nil
}

// Find returns the operation only if owner matches. A miss and a
// mismatch are indistinguishable and both pay a small randomized delay
// to blunt existence probing.
func (l *Lifecycle) Find(ctx context.Context, id string, owner string) (*operation.Operation, *t_api.Error) {
	if err := validateId(id); err != nil {
		return nil, err
	}

	rec, err := l.store.ReadOperation(ctx, id)
	if err != nil {
		slog.Error("failed to read operation", "id", id, "err", err)
		return nil, t_api.NewError(t_api.StatusStoreError, err)
	}

	if rec == nil || rec.OwnerId != owner {
		l.sleep(time.Duration(1+rand.Intn(10)) * time.Millisecond)
		return nil, t_api.NewError(t_api.StatusOperationNotFound, nil)
	}

	return toOperation(rec)
}

// EffectiveLimit resolves the page size actually used for a requested
// limit. Callers that build pagination cursors must compare page sizes
// against this value, not the raw request value.
func (l *Lifecycle) EffectiveLimit(limit int) int {
	if limit <= 0 || limit > l.config.ListLimit {
		return l.config.ListLimit
	}
	return limit
}

// List returns operations owned by owner, newest first. The limit is
// clamped server side.
func (l *Lifecycle) List(ctx context.Context, owner string, states operation.Status, function string, limit int, sortId *int64) ([]*operation.Operation, *t_api.Error) {
	if owner == "" {
		return nil, t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("owner must be provided"))
	}

	limit = l.EffectiveLimit(limit)

	records, err := l.store.ListOperations(ctx, &store.ListQuery{
		Owner:    owner,
		States:   states,
		Function: function,
		Limit:    limit,
		SortId:   sortId,
	})
	if err != nil {
		slog.Error("failed to list operations", "owner", owner, "err", err)
		return nil, t_api.NewError(t_api.StatusStoreError, err)
	}

	operations := make([]*operation.Operation, len(records))
	for i, rec := range records {
		op, err := toOperation(rec)
		if err != nil {
			return nil, err
		}
		operations[i] = op
	}

	return operations, nil
}

// transition runs one read-modify-CAS-write loop. The apply callback
// validates the current state and mutates the record in place, the write
// is guarded by the record's counter.
func (l *Lifecycle) transition(ctx context.Context, id string, owner string, apply func(*operation.OperationRecord, int64) *t_api.Error) (*operation.Operation, *t_api.Error) {
	if err := validateId(id); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		rec, err := l.store.ReadOperation(ctx, id)
		if err != nil {
			slog.Error("failed to read operation", "id", id, "err", err)
			return nil, t_api.NewError(t_api.StatusStoreError, err)
		}

		if rec == nil || rec.OwnerId != owner {
			l.sleep(time.Duration(1+rand.Intn(10)) * time.Millisecond)
			return nil, t_api.NewError(t_api.StatusOperationNotFound, nil)
		}

		counter := rec.Counter
		if applyErr := apply(rec, l.time()); applyErr != nil {
			return nil, applyErr
		}

		ok, err := l.store.UpdateOperation(ctx, rec, counter)
		if err != nil {
			slog.Error("failed to update operation", "id", id, "err", err)
			return nil, t_api.NewError(t_api.StatusStoreError, err)
		}

		if ok {
			rec.Counter = counter + 1
			return toOperation(rec)
		}

		if attempt >= l.config.CasRetries {
			return nil, t_api.NewError(t_api.StatusConcurrentModification, fmt.Errorf("operation %s modified concurrently", id))
		}

		l.metrics.CasRetries.Inc()
		l.sleep(util.Backoff(attempt, l.config.RetryBackoff, l.config.RetryBackoffMax))
	}
}

func toOperation(rec *operation.OperationRecord) (*operation.Operation, *t_api.Error) {
	op, err := rec.Operation()
	if err != nil {
		slog.Error("failed to parse operation record", "id", rec.Id, "err", err)
		return nil, t_api.NewError(t_api.StatusInternalError, err)
	}

	return op, nil
}

// validProgress clamps p to [0, 1] and rejects a decrease.
func validProgress(p float64, current *float64) (float64, *t_api.Error) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	if current != nil && p < *current {
		return 0, t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("progress %f is less than current %f", p, *current))
	}

	return p, nil
}

func validateId(id string) *t_api.Error {
	if _, err := uuid.Parse(id); err != nil {
		return t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("invalid operation id '%s'", id))
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

func transitionError(s operation.Status) *t_api.Error {
	switch s {
	case operation.Completed:
		return t_api.NewError(t_api.StatusOperationAlreadyCompleted, nil)
	case operation.Failed:
		return t_api.NewError(t_api.StatusOperationAlreadyFailed, nil)
	case operation.Cancelled:
		return t_api.NewError(t_api.StatusOperationAlreadyCancelled, nil)
	default:
		return t_api.NewError(t_api.StatusOperationNotPending, nil)
	}
}

func marshalHeaders(headers map[string]string) ([]byte, error) {
	if headers == nil {
		return nil, nil
	}
	return json.Marshal(headers)
}
