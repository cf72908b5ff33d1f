package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/lifecycle"
	"github.com/fulcrumhq/fulcrum/internal/pipeline"
	"github.com/fulcrumhq/fulcrum/internal/registry"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

type AsyncConfig struct {
	DefaultTtl time.Duration `mapstructure:"defaultTtl"`
}

// Async turns a call with the async option into an operation record and
// hands the result back through polling: the call short-circuits with an
// operation id, the in-process worker executes the function and commits
// the outcome through the lifecycle state machine. It also serves the
// operation.status and operation.list builtins that polling clients use.
type Async struct {
	lifecycle *lifecycle.Lifecycle
	registry  *registry.Registry
	config    *AsyncConfig

	// workers tracks in-flight executions so shutdown can drain them
	workers sync.WaitGroup
}

func NewAsync(l *lifecycle.Lifecycle, r *registry.Registry, config *AsyncConfig) *Async {
	return &Async{
		lifecycle: l,
		registry:  r,
		config:    config,
	}
}

func (x *Async) Name() string {
	return "async"
}

func (x *Async) Fatal() bool {
	return true
}

func (x *Async) Subscriptions() []pipeline.Subscription {
	return []pipeline.Subscription{
		{Event: pipeline.ExecutingFunction, Priority: pipeline.PriorityExecution, Handler: x.beforeExecute},
	}
}

// Drain blocks until all in-flight asynchronous executions commit.
func (x *Async) Drain() {
	x.workers.Wait()
}

func (x *Async) beforeExecute(ctx context.Context, e *pipeline.Event) error {
	request := e.Request()

	switch request.Function {
	case FnOperationStatus:
		return x.status(ctx, e)
	case FnOperationList:
		return x.list(ctx, e)
	}

	if v, ok := request.Option(OptionAsync); !ok || v != "true" {
		return nil
	}

	fn, ok := x.registry.Lookup(request.Function, request.Version)
	if !ok {
		return t_api.NewError(t_api.StatusFunctionNotFound, nil)
	}

	ttl := x.config.DefaultTtl
	if rawTtl, ok := request.Option(OptionAsyncTtl); ok {
		parsed, err := time.ParseDuration(rawTtl)
		if err != nil {
			return t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("invalid async ttl"))
		}
		ttl = parsed
	}

	callback, _ := request.Option(OptionAsyncCallback)

	op, createErr := x.lifecycle.Create(ctx, request.Function, request.Version, request.Owner, lifecycle.Metadata{
		RequestId: request.Options["request_id"],
		Callback:  callback,
	}, ttl)
	if createErr != nil {
		return createErr
	}

	x.work(op, fn, request.Arguments)

	e.SetResponse(&t_api.CallResponse{
		Status:      t_api.StatusAccepted,
		OperationId: op.Id,
	})
	e.StopPropagation()
	return nil
}

// work executes the function on a fresh goroutine, honoring the storage
// contract an external worker would: mark processing, poll for
// cancellation, then commit exactly one terminal transition.
func (x *Async) work(op *operation.Operation, fn *registry.Function, args []byte) {
	x.workers.Add(1)

	go func() {
		defer x.workers.Done()

		ctx := context.Background()
		owner := op.Metadata.OwnerId

		if _, err := x.lifecycle.MarkProcessing(ctx, op.Id, owner, nil); err != nil {
			// already cancelled, or lost a race; either way do not run
			slog.Warn("skipping async execution", "id", op.Id, "err", err)
			return
		}

		value, err := fn.Handler(ctx, args)
		if err != nil {
			if _, failErr := x.lifecycle.Fail(ctx, op.Id, owner, []operation.Error{{Code: "EXECUTION", Message: err.Error()}}); failErr != nil {
				slog.Warn("failed to fail operation", "id", op.Id, "err", failErr)
			}
			return
		}

		// cooperative cancellation: do not commit a result the caller
		// no longer wants
		if cancelled, err := x.lifecycle.CancellationRequested(ctx, op.Id, owner); err != nil || cancelled {
			return
		}

		if value == nil {
			value = &operation.Value{}
		}

		if _, completeErr := x.lifecycle.Complete(ctx, op.Id, owner, value); completeErr != nil {
			slog.Warn("failed to complete operation", "id", op.Id, "err", completeErr)
		}
	}()
}

func (x *Async) status(ctx context.Context, e *pipeline.Event) error {
	request := e.Request()

	var args struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(request.Arguments, &args); err != nil {
		return t_api.NewError(t_api.StatusFieldValidationError, err)
	}

	op, findErr := x.lifecycle.Find(ctx, args.Id, request.Owner)
	if findErr != nil {
		return findErr
	}

	return respond(e, op)
}

func (x *Async) list(ctx context.Context, e *pipeline.Event) error {
	request := e.Request()

	var args struct {
		States   []string `json:"states,omitempty"`
		Function string   `json:"function,omitempty"`
		Limit    int      `json:"limit,omitempty"`
		Cursor   string   `json:"cursor,omitempty"`
	}
	if request.Arguments != nil {
		if err := json.Unmarshal(request.Arguments, &args); err != nil {
			return t_api.NewError(t_api.StatusFieldValidationError, err)
		}
	}

	var states operation.Status
	for _, s := range args.States {
		parsed, err := operation.ParseStatus(s)
		if err != nil {
			return t_api.NewError(t_api.StatusFieldValidationError, err)
		}
		states |= parsed
	}

	var sortId *int64
	if args.Cursor != "" {
		cursor, err := t_api.NewCursor[t_api.ListOperationsRequest](args.Cursor)
		if err != nil {
			return t_api.NewError(t_api.StatusFieldValidationError, err)
		}
		sortId = cursor.Next.SortId
		states = cursor.Next.States
		args.Function = cursor.Next.Function
		args.Limit = cursor.Next.Limit
	}

	limit := x.lifecycle.EffectiveLimit(args.Limit)

	operations, listErr := x.lifecycle.List(ctx, request.Owner, states, args.Function, limit, sortId)
	if listErr != nil {
		return listErr
	}

	response := &t_api.ListOperationsResponse{
		Status:     t_api.StatusOK,
		Operations: operations,
	}

	if len(operations) > 0 && len(operations) == limit {
		last := operations[len(operations)-1]
		response.Cursor = &t_api.Cursor[t_api.ListOperationsRequest]{
			Next: &t_api.ListOperationsRequest{
				States:   states,
				Function: args.Function,
				Limit:    limit,
				SortId:   &last.SortId,
			},
		}
	}

	return respond(e, response)
}

// respond marshals a builtin result and short-circuits the call.
func respond(e *pipeline.Event, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return t_api.NewError(t_api.StatusInternalError, err)
	}

	e.SetResponse(&t_api.CallResponse{
		Status:  t_api.StatusOK,
		Headers: map[string]string{"Content-Type": "application/json"},
		Data:    data,
	})
	e.StopPropagation()
	return nil
}
