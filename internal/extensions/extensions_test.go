package extensions

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store/memory"
	"github.com/fulcrumhq/fulcrum/internal/coordinator"
	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/lifecycle"
	"github.com/fulcrumhq/fulcrum/internal/metrics"
	"github.com/fulcrumhq/fulcrum/internal/pipeline"
	"github.com/fulcrumhq/fulcrum/internal/registry"
)

// harness wires the full pipeline with every extension against the
// in-memory store, mirroring the serve command's assembly.
type harness struct {
	now int64

	store       *memory.Store
	coordinator *coordinator.Coordinator
	lifecycle   *lifecycle.Lifecycle
	registry    *registry.Registry
	idempotency *Idempotency
	async       *Async
	invoker     *pipeline.Invoker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{now: 1000}
	clock := func() int64 { return h.now }

	h.store = memory.New()
	m := metrics.New(prometheus.NewRegistry())

	h.coordinator = coordinator.New(h.store, &coordinator.Config{MaxTtl: time.Hour}).WithClock(clock)
	h.lifecycle = lifecycle.New(h.store, m, &lifecycle.Config{
		MaxTtl:          24 * time.Hour,
		CasRetries:      3,
		RetryBackoff:    time.Millisecond,
		RetryBackoffMax: 10 * time.Millisecond,
		ListLimit:       10,
	}).WithClock(clock, func(time.Duration) {})
	h.registry = registry.New()

	h.idempotency = NewIdempotency(h.store, h.coordinator, &IdempotencyConfig{
		DefaultTtl: time.Hour,
		MaxTtl:     24 * time.Hour,
		LockTtl:    time.Minute,
	}).WithClock(clock)
	h.async = NewAsync(h.lifecycle, h.registry, &AsyncConfig{DefaultTtl: time.Hour})

	p := pipeline.New(m)
	for _, ext := range []pipeline.Extension{
		NewDeadline().WithClock(clock),
		NewDeprecation(h.registry),
		h.idempotency,
		h.async,
		NewCancellation(h.lifecycle),
		NewAtomicLock(h.coordinator),
	} {
		require.NoError(t, p.Register(ext))
	}

	h.invoker = pipeline.NewInvoker(p, h.registry)
	return h
}

func (h *harness) call(req *t_api.CallRequest) (*t_api.CallResponse, *t_api.Error) {
	if req.Version == "" {
		req.Version = "1"
	}
	if req.Owner == "" {
		req.Owner = "alice"
	}

	return h.invoker.Invoke(context.Background(), req)
}
