package extensions

import (
	"context"
	"encoding/json"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/lifecycle"
	"github.com/fulcrumhq/fulcrum/internal/pipeline"
)

// Cancellation serves the operation.cancel builtin. Cancellation is
// cooperative: the stored status flips, in-flight workers observe it
// before committing further progress, nothing is interrupted by force.
type Cancellation struct {
	lifecycle *lifecycle.Lifecycle
}

func NewCancellation(l *lifecycle.Lifecycle) *Cancellation {
	return &Cancellation{lifecycle: l}
}

func (x *Cancellation) Name() string {
	return "cancellation"
}

func (x *Cancellation) Fatal() bool {
	return true
}

func (x *Cancellation) Subscriptions() []pipeline.Subscription {
	return []pipeline.Subscription{
		{Event: pipeline.ExecutingFunction, Priority: pipeline.PriorityExecution, Handler: x.beforeExecute},
	}
}

func (x *Cancellation) beforeExecute(ctx context.Context, e *pipeline.Event) error {
	request := e.Request()

	if request.Function != FnOperationCancel {
		return nil
	}

	var args struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(request.Arguments, &args); err != nil {
		return t_api.NewError(t_api.StatusFieldValidationError, err)
	}

	op, cancelErr := x.lifecycle.Cancel(ctx, args.Id, request.Owner)
	if cancelErr != nil {
		return cancelErr
	}

	return respond(e, op)
}
