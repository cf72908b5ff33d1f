// Package pipeline dispatches the fixed sequence of lifecycle events
// (RequestValidated, ExecutingFunction, FunctionExecuted,
// SendingResponse) to registered extensions in ascending priority order,
// honoring propagation control and short-circuit responses.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/metrics"
)

// Priority bands, by convention, group extension categories. Not
// enforced, just documented.
const (
	PriorityInfrastructure = 0
	PriorityFastFail       = 10
	PriorityShortCircuit   = 20
	PriorityValidation     = 30
	PriorityExecution      = 40
	PriorityDefault        = 100
	PriorityPostProcess    = 200
)

type Handler func(ctx context.Context, e *Event) error

type Subscription struct {
	Event    EventKind
	Priority int
	Handler  Handler
}

// Extension is a policy module subscribing to pipeline events. A fatal
// extension's handler error aborts the request, a non-fatal one is
// recorded and skipped.
type Extension interface {
	Name() string
	Fatal() bool
	Subscriptions() []Subscription
}

type subscriber struct {
	extension Extension
	priority  int
	seq       int
	handler   Handler
}

type Pipeline struct {
	metrics     *metrics.Metrics
	subscribers map[EventKind][]*subscriber
	seq         int
}

func New(m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		metrics:     m,
		subscribers: map[EventKind][]*subscriber{},
	}
}

// Register validates an extension's subscriptions and slots them into
// the priority order. Registration is static, validation happens here so
// dispatch never has to.
func (p *Pipeline) Register(ext Extension) error {
	if ext.Name() == "" {
		return fmt.Errorf("extension name must be provided")
	}

	subscriptions := ext.Subscriptions()
	if len(subscriptions) == 0 {
		return fmt.Errorf("extension %s has no subscriptions", ext.Name())
	}

	for _, sub := range subscriptions {
		if sub.Handler == nil {
			return fmt.Errorf("extension %s has a nil handler for %s", ext.Name(), sub.Event)
		}
		if sub.Priority < 0 {
			return fmt.Errorf("extension %s has a negative priority for %s", ext.Name(), sub.Event)
		}
	}

	for _, sub := range subscriptions {
		p.seq++
		p.subscribers[sub.Event] = append(p.subscribers[sub.Event], &subscriber{
			extension: ext,
			priority:  sub.Priority,
			seq:       p.seq,
			handler:   sub.Handler,
		})

		// ascending priority, stable by registration order on ties
		sort.SliceStable(p.subscribers[sub.Event], func(i, j int) bool {
			a, b := p.subscribers[sub.Event][i], p.subscribers[sub.Event][j]
			if a.priority != b.priority {
				return a.priority < b.priority
			}
			return a.seq < b.seq
		})
	}

	return nil
}

// Dispatch invokes each subscriber for the event's kind in priority
// order. Once a handler stops propagation no further handler runs.
// Stopping without a response is a programming error and is reported,
// not silently accepted.
func (p *Pipeline) Dispatch(ctx context.Context, e *Event) (Outcome, *t_api.Error) {
	for _, sub := range p.subscribers[e.Kind] {
		if err := sub.handler(ctx, e); err != nil {
			p.metrics.ExtensionFailures.WithLabelValues(sub.extension.Name(), fmt.Sprintf("%t", sub.extension.Fatal())).Inc()

			if sub.extension.Fatal() {
				p.metrics.PipelineTotal.WithLabelValues(e.Kind.String(), "error").Inc()
				slog.Error("extension failed", "extension", sub.extension.Name(), "event", e.Kind, "err", err)

				if typed, ok := err.(*t_api.Error); ok {
					return Exhausted, typed
				}
				return Exhausted, t_api.NewError(t_api.StatusHandlerError, err)
			}

			slog.Warn("non-fatal extension failed, continuing", "extension", sub.extension.Name(), "event", e.Kind, "err", err)
			continue
		}

		if e.Stopped() {
			if e.Response() == nil {
				p.metrics.PipelineTotal.WithLabelValues(e.Kind.String(), "error").Inc()
				return StoppedNoResponse, t_api.NewError(
					t_api.StatusInternalError,
					fmt.Errorf("extension %s stopped propagation without setting a response", sub.extension.Name()),
				)
			}

			p.metrics.PipelineTotal.WithLabelValues(e.Kind.String(), "stopped").Inc()
			return StoppedWithResponse, nil
		}
	}

	p.metrics.PipelineTotal.WithLabelValues(e.Kind.String(), "exhausted").Inc()
	return Exhausted, nil
}
