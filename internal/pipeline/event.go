package pipeline

import (
	"context"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
)

type EventKind int

const (
	RequestValidated EventKind = iota
	ExecutingFunction
	FunctionExecuted
	SendingResponse
)

func (k EventKind) String() string {
	switch k {
	case RequestValidated:
		return "RequestValidated"
	case ExecutingFunction:
		return "ExecutingFunction"
	case FunctionExecuted:
		return "FunctionExecuted"
	case SendingResponse:
		return "SendingResponse"
	default:
		panic("invalid event kind")
	}
}

// Outcome is the terminal state of a single dispatched event instance.
type Outcome int

const (
	Exhausted Outcome = iota
	StoppedWithResponse
	StoppedNoResponse
)

func (o Outcome) String() string {
	switch o {
	case Exhausted:
		return "Exhausted"
	case StoppedWithResponse:
		return "StoppedWithResponse"
	case StoppedNoResponse:
		return "StoppedNoResponse"
	default:
		panic("invalid outcome")
	}
}

// Invocation carries the state shared by all events of one call: the
// request, the current response, and a per-call value bag extensions use
// to hand state to their paired "after" hooks. Extensions must never
// store per-request state on their own instance fields, concurrent
// requests share extension instances.
type Invocation struct {
	request  *t_api.CallRequest
	response *t_api.CallResponse
	values   map[string]any
	deferred []func(context.Context)
}

func NewInvocation(request *t_api.CallRequest) *Invocation {
	return &Invocation{
		request: request,
		values:  map[string]any{},
	}
}

func (i *Invocation) Request() *t_api.CallRequest {
	return i.request
}

func (i *Invocation) Response() *t_api.CallResponse {
	return i.response
}

func (i *Invocation) SetResponse(r *t_api.CallResponse) {
	i.response = r
}

func (i *Invocation) Event(kind EventKind) *Event {
	return &Event{Kind: kind, invocation: i}
}

// Defer registers a cleanup function that runs when the invocation
// finishes, on every exit path including fatal handler errors.
// Extensions holding locks register their release here.
func (i *Invocation) Defer(f func(context.Context)) {
	i.deferred = append(i.deferred, f)
}

func (i *Invocation) runDeferred(ctx context.Context) {
	// reverse order, like the language construct
	for n := len(i.deferred) - 1; n >= 0; n-- {
		i.deferred[n](ctx)
	}
}

// Event is one dispatch instance. The stopped flag is per event, the
// response and value bag are shared across the invocation.
type Event struct {
	Kind EventKind

	invocation *Invocation
	stopped    bool
}

func (e *Event) Request() *t_api.CallRequest {
	return e.invocation.request
}

func (e *Event) Response() *t_api.CallResponse {
	return e.invocation.response
}

// SetResponse replaces the invocation's current response without
// stopping propagation.
func (e *Event) SetResponse(r *t_api.CallResponse) {
	e.invocation.SetResponse(r)
}

// StopPropagation prevents any further handler from running for this
// event. A handler that stops propagation must also set a response.
func (e *Event) StopPropagation() {
	e.stopped = true
}

func (e *Event) Stopped() bool {
	return e.stopped
}

// Set stores a per-invocation value, visible to later events of the
// same call.
func (e *Event) Set(key string, value any) {
	e.invocation.values[key] = value
}

func (e *Event) Get(key string) (any, bool) {
	value, ok := e.invocation.values[key]
	return value, ok
}

func (e *Event) Delete(key string) {
	delete(e.invocation.values, key)
}

// Defer registers an invocation-scoped cleanup, see Invocation.Defer.
func (e *Event) Defer(f func(context.Context)) {
	e.invocation.Defer(f)
}
