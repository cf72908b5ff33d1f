package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fulcrumhq/fulcrum/internal/coordinator"
	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/pipeline"
)

// AtomicLock exposes the lock coordinator as callable operations for
// client-driven coordination: lock.acquire, lock.release, lock.status
// and the admin-gated lock.forceRelease.
type AtomicLock struct {
	coordinator *coordinator.Coordinator
}

func NewAtomicLock(c *coordinator.Coordinator) *AtomicLock {
	return &AtomicLock{coordinator: c}
}

func (x *AtomicLock) Name() string {
	return "atomiclock"
}

func (x *AtomicLock) Fatal() bool {
	return true
}

func (x *AtomicLock) Subscriptions() []pipeline.Subscription {
	return []pipeline.Subscription{
		{Event: pipeline.ExecutingFunction, Priority: pipeline.PriorityExecution, Handler: x.beforeExecute},
	}
}

func (x *AtomicLock) beforeExecute(ctx context.Context, e *pipeline.Event) error {
	switch e.Request().Function {
	case FnLockAcquire:
		return x.acquire(ctx, e)
	case FnLockRelease:
		return x.release(ctx, e)
	case FnLockForceRelease:
		return x.forceRelease(ctx, e)
	case FnLockStatus:
		return x.status(ctx, e)
	default:
		return nil
	}
}

func (x *AtomicLock) acquire(ctx context.Context, e *pipeline.Event) error {
	var args struct {
		Key string `json:"key"`
		Ttl string `json:"ttl"`
	}
	if err := json.Unmarshal(e.Request().Arguments, &args); err != nil {
		return t_api.NewError(t_api.StatusFieldValidationError, err)
	}

	ttl, err := time.ParseDuration(args.Ttl)
	if err != nil {
		return t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("invalid ttl '%s'", args.Ttl))
	}

	l, acquireErr := x.coordinator.Acquire(ctx, args.Key, ttl)
	if acquireErr != nil {
		if acquireErr.Code() == t_api.StatusLockBusy {
			// busy is an expected answer for a contended lock, the
			// caller retries after a delay
			e.SetResponse(&t_api.CallResponse{Status: t_api.StatusLockBusy})
			e.StopPropagation()
			return nil
		}
		return acquireErr
	}

	return respond(e, l)
}

func (x *AtomicLock) release(ctx context.Context, e *pipeline.Event) error {
	var args struct {
		Key   string `json:"key"`
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(e.Request().Arguments, &args); err != nil {
		return t_api.NewError(t_api.StatusFieldValidationError, err)
	}

	released, releaseErr := x.coordinator.Release(ctx, args.Key, args.Owner)
	if releaseErr != nil {
		return releaseErr
	}

	return respond(e, map[string]bool{"released": released})
}

func (x *AtomicLock) forceRelease(ctx context.Context, e *pipeline.Event) error {
	// policy gate: mechanism lives in the coordinator, the privilege
	// check lives here
	if !e.Request().Admin {
		return t_api.NewError(t_api.StatusForbidden, fmt.Errorf("lock.forceRelease requires admin"))
	}

	var args struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(e.Request().Arguments, &args); err != nil {
		return t_api.NewError(t_api.StatusFieldValidationError, err)
	}

	released, releaseErr := x.coordinator.ForceRelease(ctx, args.Key)
	if releaseErr != nil {
		return releaseErr
	}

	return respond(e, map[string]bool{"released": released})
}

func (x *AtomicLock) status(ctx context.Context, e *pipeline.Event) error {
	var args struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(e.Request().Arguments, &args); err != nil {
		return t_api.NewError(t_api.StatusFieldValidationError, err)
	}

	status, statusErr := x.coordinator.Status(ctx, args.Key)
	if statusErr != nil {
		return statusErr
	}

	return respond(e, status)
}
