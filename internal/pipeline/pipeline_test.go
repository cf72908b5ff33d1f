package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/metrics"
	"github.com/fulcrumhq/fulcrum/internal/registry"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

// testExtension subscribes a single handler to one event kind.
type testExtension struct {
	name          string
	fatal         bool
	subscriptions []Subscription
}

func (x *testExtension) Name() string                  { return x.name }
func (x *testExtension) Fatal() bool                   { return x.fatal }
func (x *testExtension) Subscriptions() []Subscription { return x.subscriptions }

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	return New(metrics.New(prometheus.NewRegistry()))
}

func TestRegisterValidation(t *testing.T) {
	p := newPipeline(t)

	noop := func(ctx context.Context, e *Event) error { return nil }

	for _, tc := range []struct {
		name string
		ext  Extension
	}{
		{"empty name", &testExtension{name: "", subscriptions: []Subscription{{Handler: noop}}}},
		{"no subscriptions", &testExtension{name: "x"}},
		{"nil handler", &testExtension{name: "x", subscriptions: []Subscription{{Event: RequestValidated}}}},
		{"negative priority", &testExtension{name: "x", subscriptions: []Subscription{{Event: RequestValidated, Priority: -1, Handler: noop}}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, p.Register(tc.ext))
		})
	}
}

func TestDispatchOrder(t *testing.T) {
	p := newPipeline(t)

	var order []string
	record := func(name string) Handler {
		return func(ctx context.Context, e *Event) error {
			order = append(order, name)
			return nil
		}
	}

	// registered out of order, dispatched by ascending priority with
	// registration order breaking ties
	require.NoError(t, p.Register(&testExtension{name: "post", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: PriorityPostProcess, Handler: record("post")},
	}}))
	require.NoError(t, p.Register(&testExtension{name: "tie-a", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: PriorityDefault, Handler: record("tie-a")},
	}}))
	require.NoError(t, p.Register(&testExtension{name: "infra", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: PriorityInfrastructure, Handler: record("infra")},
	}}))
	require.NoError(t, p.Register(&testExtension{name: "tie-b", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: PriorityDefault, Handler: record("tie-b")},
	}}))

	inv := NewInvocation(&t_api.CallRequest{Function: "f"})
	outcome, err := p.Dispatch(context.Background(), inv.Event(RequestValidated))
	require.Nil(t, err)

	assert.Equal(t, Exhausted, outcome)
	assert.Equal(t, []string{"infra", "tie-a", "tie-b", "post"}, order)
}

func TestDispatchStopPropagation(t *testing.T) {
	p := newPipeline(t)

	var ran []string

	require.NoError(t, p.Register(&testExtension{name: "first", fatal: true, subscriptions: []Subscription{
		{Event: ExecutingFunction, Priority: 10, Handler: func(ctx context.Context, e *Event) error {
			ran = append(ran, "first")
			e.SetResponse(&t_api.CallResponse{Status: t_api.StatusOK})
			e.StopPropagation()
			return nil
		}},
	}}))
	require.NoError(t, p.Register(&testExtension{name: "second", fatal: true, subscriptions: []Subscription{
		{Event: ExecutingFunction, Priority: 20, Handler: func(ctx context.Context, e *Event) error {
			ran = append(ran, "second")
			return nil
		}},
	}}))

	inv := NewInvocation(&t_api.CallRequest{Function: "f"})
	outcome, err := p.Dispatch(context.Background(), inv.Event(ExecutingFunction))
	require.Nil(t, err)

	assert.Equal(t, StoppedWithResponse, outcome)
	assert.Equal(t, []string{"first"}, ran)
}

func TestDispatchStopWithoutResponse(t *testing.T) {
	p := newPipeline(t)

	require.NoError(t, p.Register(&testExtension{name: "broken", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: 10, Handler: func(ctx context.Context, e *Event) error {
			e.StopPropagation()
			return nil
		}},
	}}))

	inv := NewInvocation(&t_api.CallRequest{Function: "f"})
	outcome, err := p.Dispatch(context.Background(), inv.Event(RequestValidated))

	assert.Equal(t, StoppedNoResponse, outcome)
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusInternalError, err.Code())
}

func TestDispatchFatal(t *testing.T) {
	p := newPipeline(t)

	var ran bool

	require.NoError(t, p.Register(&testExtension{name: "fatal", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: 10, Handler: func(ctx context.Context, e *Event) error {
			return t_api.NewError(t_api.StatusForbidden, nil)
		}},
	}}))
	require.NoError(t, p.Register(&testExtension{name: "after", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: 20, Handler: func(ctx context.Context, e *Event) error {
			ran = true
			return nil
		}},
	}}))

	inv := NewInvocation(&t_api.CallRequest{Function: "f"})
	_, err := p.Dispatch(context.Background(), inv.Event(RequestValidated))

	// typed errors pass through untouched
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusForbidden, err.Code())
	assert.False(t, ran)
}

func TestDispatchFatalUntypedError(t *testing.T) {
	p := newPipeline(t)

	require.NoError(t, p.Register(&testExtension{name: "fatal", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: 10, Handler: func(ctx context.Context, e *Event) error {
			return errors.New("boom")
		}},
	}}))

	inv := NewInvocation(&t_api.CallRequest{Function: "f"})
	_, err := p.Dispatch(context.Background(), inv.Event(RequestValidated))

	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusHandlerError, err.Code())
}

func TestDispatchNonFatal(t *testing.T) {
	p := newPipeline(t)

	var ran bool

	require.NoError(t, p.Register(&testExtension{name: "flaky", fatal: false, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: 10, Handler: func(ctx context.Context, e *Event) error {
			return errors.New("boom")
		}},
	}}))
	require.NoError(t, p.Register(&testExtension{name: "after", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: 20, Handler: func(ctx context.Context, e *Event) error {
			ran = true
			return nil
		}},
	}}))

	inv := NewInvocation(&t_api.CallRequest{Function: "f"})
	outcome, err := p.Dispatch(context.Background(), inv.Event(RequestValidated))

	// a non-fatal failure is skipped, the rest of the chain runs
	require.Nil(t, err)
	assert.Equal(t, Exhausted, outcome)
	assert.True(t, ran)
}

func TestInvocationValues(t *testing.T) {
	inv := NewInvocation(&t_api.CallRequest{Function: "f"})

	first := inv.Event(RequestValidated)
	first.Set("k", 42)

	// values survive across event instances of the same invocation
	second := inv.Event(FunctionExecuted)
	v, ok := second.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	second.Delete("k")
	_, ok = first.Get("k")
	assert.False(t, ok)

	// the stopped flag does not
	first.StopPropagation()
	assert.True(t, first.Stopped())
	assert.False(t, second.Stopped())
}

func TestInvokerExecutes(t *testing.T) {
	p := newPipeline(t)
	r := registry.New()

	require.NoError(t, r.Register(&registry.Function{
		Name:    "echo",
		Version: "1",
		Handler: func(ctx context.Context, args []byte) (*operation.Value, error) {
			return &operation.Value{Data: args}, nil
		},
	}))

	invoker := NewInvoker(p, r)

	res, err := invoker.Invoke(context.Background(), &t_api.CallRequest{
		Function:  "echo",
		Version:   "1",
		Arguments: []byte(`"hello"`),
	})
	require.Nil(t, err)

	assert.Equal(t, t_api.StatusOK, res.Status)
	assert.Equal(t, []byte(`"hello"`), res.Data)
}

func TestInvokerFunctionNotFound(t *testing.T) {
	invoker := NewInvoker(newPipeline(t), registry.New())

	res, err := invoker.Invoke(context.Background(), &t_api.CallRequest{Function: "missing", Version: "1"})
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusFunctionNotFound, res.Status)
}

func TestInvokerHandlerError(t *testing.T) {
	p := newPipeline(t)
	r := registry.New()

	require.NoError(t, r.Register(&registry.Function{
		Name:    "broken",
		Version: "1",
		Handler: func(ctx context.Context, args []byte) (*operation.Value, error) {
			return nil, errors.New("boom")
		},
	}))

	invoker := NewInvoker(p, r)

	res, err := invoker.Invoke(context.Background(), &t_api.CallRequest{Function: "broken", Version: "1"})
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusHandlerError, res.Status)
}

func TestInvokerShortCircuitSkipsExecution(t *testing.T) {
	p := newPipeline(t)
	r := registry.New()

	executed := false
	require.NoError(t, r.Register(&registry.Function{
		Name:    "f",
		Version: "1",
		Handler: func(ctx context.Context, args []byte) (*operation.Value, error) {
			executed = true
			return &operation.Value{}, nil
		},
	}))

	var events []EventKind
	require.NoError(t, p.Register(&testExtension{name: "witness", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: PriorityPostProcess, Handler: func(ctx context.Context, e *Event) error {
			events = append(events, RequestValidated)
			return nil
		}},
		{Event: FunctionExecuted, Priority: PriorityPostProcess, Handler: func(ctx context.Context, e *Event) error {
			events = append(events, FunctionExecuted)
			return nil
		}},
		{Event: SendingResponse, Priority: PriorityPostProcess, Handler: func(ctx context.Context, e *Event) error {
			events = append(events, SendingResponse)
			return nil
		}},
	}}))
	require.NoError(t, p.Register(&testExtension{name: "cache", fatal: true, subscriptions: []Subscription{
		{Event: ExecutingFunction, Priority: PriorityShortCircuit, Handler: func(ctx context.Context, e *Event) error {
			e.SetResponse(&t_api.CallResponse{Status: t_api.StatusOK, Data: []byte("cached")})
			e.StopPropagation()
			return nil
		}},
	}}))

	invoker := NewInvoker(p, r)

	res, err := invoker.Invoke(context.Background(), &t_api.CallRequest{Function: "f", Version: "1"})
	require.Nil(t, err)

	assert.Equal(t, []byte("cached"), res.Data)
	assert.False(t, executed)

	// FunctionExecuted is skipped, SendingResponse always fires
	assert.Equal(t, []EventKind{RequestValidated, SendingResponse}, events)
}

func TestInvokerRunsDeferred(t *testing.T) {
	p := newPipeline(t)

	var cleaned []string
	require.NoError(t, p.Register(&testExtension{name: "locker", fatal: true, subscriptions: []Subscription{
		{Event: RequestValidated, Priority: 10, Handler: func(ctx context.Context, e *Event) error {
			e.Defer(func(context.Context) { cleaned = append(cleaned, "a") })
			e.Defer(func(context.Context) { cleaned = append(cleaned, "b") })
			return nil
		}},
	}}))
	require.NoError(t, p.Register(&testExtension{name: "fatal", fatal: true, subscriptions: []Subscription{
		{Event: ExecutingFunction, Priority: 10, Handler: func(ctx context.Context, e *Event) error {
			return t_api.NewError(t_api.StatusInternalError, nil)
		}},
	}}))

	invoker := NewInvoker(p, registry.New())

	_, err := invoker.Invoke(context.Background(), &t_api.CallRequest{Function: "f", Version: "1"})
	require.NotNil(t, err)

	// cleanups run in reverse order even when the call aborts
	assert.Equal(t, []string{"b", "a"}, cleaned)
}
