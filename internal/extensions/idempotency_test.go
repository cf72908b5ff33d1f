package extensions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/registry"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

// registerCharge installs a payment-shaped function that counts its
// executions.
func registerCharge(t *testing.T, h *harness, calls *int) {
	t.Helper()

	require.NoError(t, h.registry.Register(&registry.Function{
		Name:    "charge",
		Version: "1",
		Handler: func(ctx context.Context, args []byte) (*operation.Value, error) {
			*calls++
			return &operation.Value{Data: []byte(`"done"`)}, nil
		},
	}))
}

func chargeRequest(key string, args string) *t_api.CallRequest {
	return &t_api.CallRequest{
		Function:  "charge",
		Arguments: []byte(args),
		Options:   map[string]string{OptionIdempotencyKey: key},
	}
}

func TestIdempotencyCacheHit(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	first, err := h.call(chargeRequest("order-1", `{"amount":5}`))
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusOK, first.Status)

	second, err := h.call(chargeRequest("order-1", `{"amount":5}`))
	require.Nil(t, err)

	// replayed from cache, the function ran once
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyKeyConflict(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	_, err := h.call(chargeRequest("order-1", `{"amount":5}`))
	require.Nil(t, err)

	// same key, different arguments
	_, err = h.call(chargeRequest("order-1", `{"amount":6}`))
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusIdempotencyKeyConflict, err.Code())
	assert.Equal(t, 1, calls)
}

func TestIdempotencyKeysAreScoped(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	_, err := h.call(chargeRequest("order-1", `{"amount":5}`))
	require.Nil(t, err)

	// a different key executes independently
	_, err = h.call(chargeRequest("order-2", `{"amount":5}`))
	require.Nil(t, err)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyExpiry(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	_, err := h.call(chargeRequest("order-1", `{"amount":5}`))
	require.Nil(t, err)

	// past the cache ttl the record is stale and execution repeats
	h.now += (time.Hour + time.Minute).Milliseconds()

	_, err = h.call(chargeRequest("order-1", `{"amount":5}`))
	require.Nil(t, err)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyStillProcessing(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	// a concurrent call holds the cache lock
	key := cacheKey("order-1", "charge", "1") + ":lock"
	_, aErr := h.coordinator.Acquire(context.Background(), key, time.Minute)
	require.Nil(t, aErr)

	res, err := h.call(chargeRequest("order-1", `{"amount":5}`))
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusOperationStillProcessing, res.Status)
	assert.Equal(t, 0, calls)
}

func TestIdempotencyLockReleased(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	_, err := h.call(chargeRequest("order-1", `{"amount":5}`))
	require.Nil(t, err)

	// the cache lock must not survive the call
	key := cacheKey("order-1", "charge", "1") + ":lock"
	status, sErr := h.coordinator.Status(context.Background(), key)
	require.Nil(t, sErr)
	assert.False(t, status.Locked)
}

func TestIdempotencyFailureNotCached(t *testing.T) {
	h := newHarness(t)

	calls := 0
	require.NoError(t, h.registry.Register(&registry.Function{
		Name:    "flaky",
		Version: "1",
		Handler: func(ctx context.Context, args []byte) (*operation.Value, error) {
			calls++
			if calls == 1 {
				return nil, context.DeadlineExceeded
			}
			return &operation.Value{Data: []byte(`"ok"`)}, nil
		},
	}))

	req := func() *t_api.CallRequest {
		return &t_api.CallRequest{
			Function: "flaky",
			Options:  map[string]string{OptionIdempotencyKey: "job-1"},
		}
	}

	res, err := h.call(req())
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusHandlerError, res.Status)

	// the failure was not cached and its lock was released, the retry
	// executes and succeeds
	res, err = h.call(req())
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusOK, res.Status)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyInvalidOptions(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	// malformed key
	_, err := h.call(&t_api.CallRequest{
		Function: "charge",
		Options:  map[string]string{OptionIdempotencyKey: "has spaces"},
	})
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusFieldValidationError, err.Code())

	// malformed ttl
	_, err = h.call(&t_api.CallRequest{
		Function: "charge",
		Options: map[string]string{
			OptionIdempotencyKey: "order-1",
			OptionIdempotencyTtl: "soon",
		},
	})
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusFieldValidationError, err.Code())

	// ttl above the configured maximum
	_, err = h.call(&t_api.CallRequest{
		Function: "charge",
		Options: map[string]string{
			OptionIdempotencyKey: "order-1",
			OptionIdempotencyTtl: "48h",
		},
	})
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusFieldValidationError, err.Code())

	assert.Equal(t, 0, calls)
}
