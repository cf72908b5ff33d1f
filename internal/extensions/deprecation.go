package extensions

import (
	"context"

	"github.com/fulcrumhq/fulcrum/internal/pipeline"
	"github.com/fulcrumhq/fulcrum/internal/registry"
)

const deprecationState = "deprecation.warn"

// Deprecation stamps responses of functions marked deprecated in the
// registry with a warning header. Non-fatal: a failure here must never
// cost anyone their response.
type Deprecation struct {
	registry *registry.Registry
}

func NewDeprecation(r *registry.Registry) *Deprecation {
	return &Deprecation{registry: r}
}

func (x *Deprecation) Name() string {
	return "deprecation"
}

func (x *Deprecation) Fatal() bool {
	return false
}

func (x *Deprecation) Subscriptions() []pipeline.Subscription {
	return []pipeline.Subscription{
		{Event: pipeline.RequestValidated, Priority: pipeline.PriorityValidation, Handler: x.onRequestValidated},
		{Event: pipeline.SendingResponse, Priority: pipeline.PriorityPostProcess, Handler: x.onSendingResponse},
	}
}

func (x *Deprecation) onRequestValidated(ctx context.Context, e *pipeline.Event) error {
	request := e.Request()

	if fn, ok := x.registry.Lookup(request.Function, request.Version); ok && fn.Deprecated {
		e.Set(deprecationState, true)
	}

	return nil
}

func (x *Deprecation) onSendingResponse(ctx context.Context, e *pipeline.Event) error {
	if _, ok := e.Get(deprecationState); !ok {
		return nil
	}

	response := e.Response()
	if response == nil {
		return nil
	}

	if response.Headers == nil {
		response.Headers = map[string]string{}
	}
	response.Headers["Deprecation"] = "true"

	return nil
}
