package pipeline

import (
	"context"
	"log/slog"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/registry"
)

// Invoker drives one call through the default pipeline: events fire in
// their fixed order, and unless an extension short-circuits, the target
// function executes in between. SendingResponse always fires, it is the
// final mutation opportunity even for short-circuited calls.
type Invoker struct {
	pipeline *Pipeline
	registry *registry.Registry
}

func NewInvoker(p *Pipeline, r *registry.Registry) *Invoker {
	return &Invoker{
		pipeline: p,
		registry: r,
	}
}

func (i *Invoker) Invoke(ctx context.Context, request *t_api.CallRequest) (*t_api.CallResponse, *t_api.Error) {
	inv := NewInvocation(request)
	defer inv.runDeferred(ctx)

	shortCircuited, err := i.dispatch(ctx, inv, RequestValidated)
	if err != nil {
		return nil, err
	}

	if !shortCircuited {
		shortCircuited, err = i.dispatch(ctx, inv, ExecutingFunction)
		if err != nil {
			return nil, err
		}
	}

	if !shortCircuited {
		i.execute(ctx, inv)

		if _, err := i.dispatch(ctx, inv, FunctionExecuted); err != nil {
			return nil, err
		}
	}

	if _, err := i.dispatch(ctx, inv, SendingResponse); err != nil {
		return nil, err
	}

	response := inv.Response()
	if response == nil {
		// no extension and no function produced anything
		return nil, t_api.NewError(t_api.StatusFunctionNotFound, nil)
	}

	return response, nil
}

func (i *Invoker) dispatch(ctx context.Context, inv *Invocation, kind EventKind) (bool, *t_api.Error) {
	outcome, err := i.pipeline.Dispatch(ctx, inv.Event(kind))
	if err != nil {
		return false, err
	}

	return outcome == StoppedWithResponse, nil
}

func (i *Invoker) execute(ctx context.Context, inv *Invocation) {
	request := inv.Request()

	fn, ok := i.registry.Lookup(request.Function, request.Version)
	if !ok {
		inv.SetResponse(&t_api.CallResponse{Status: t_api.StatusFunctionNotFound})
		return
	}

	value, err := fn.Handler(ctx, request.Arguments)
	if err != nil {
		slog.Warn("function failed", "function", request.Function, "version", request.Version, "err", err)
		inv.SetResponse(&t_api.CallResponse{
			Status: t_api.StatusHandlerError,
			Data:   []byte(err.Error()),
		})
		return
	}

	response := &t_api.CallResponse{Status: t_api.StatusOK}
	if value != nil {
		response.Headers = value.Headers
		response.Data = value.Data
	}

	inv.SetResponse(response)
}
