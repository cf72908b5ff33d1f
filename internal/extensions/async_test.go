package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/registry"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

func registerRender(t *testing.T, h *harness) {
	t.Helper()

	require.NoError(t, h.registry.Register(&registry.Function{
		Name:    "render",
		Version: "1",
		Handler: func(ctx context.Context, args []byte) (*operation.Value, error) {
			return &operation.Value{Data: []byte(`"report.pdf"`)}, nil
		},
	}))
}

func asyncRequest(function string, options map[string]string) *t_api.CallRequest {
	if options == nil {
		options = map[string]string{}
	}
	options[OptionAsync] = "true"

	return &t_api.CallRequest{
		Function:  function,
		Arguments: []byte(`{}`),
		Options:   options,
	}
}

func TestAsyncAccepted(t *testing.T) {
	h := newHarness(t)
	registerRender(t, h)

	res, err := h.call(asyncRequest("render", nil))
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusAccepted, res.Status)
	require.NotEmpty(t, res.OperationId)

	h.async.Drain()

	op, findErr := h.lifecycle.Find(context.Background(), res.OperationId, "alice")
	require.Nil(t, findErr)
	assert.Equal(t, operation.Completed, op.Status)
	require.NotNil(t, op.Result)
	assert.Equal(t, []byte(`"report.pdf"`), op.Result.Data)
}

func TestAsyncFailure(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.registry.Register(&registry.Function{
		Name:    "render",
		Version: "1",
		Handler: func(ctx context.Context, args []byte) (*operation.Value, error) {
			return nil, fmt.Errorf("renderer crashed")
		},
	}))

	res, err := h.call(asyncRequest("render", nil))
	require.Nil(t, err)

	h.async.Drain()

	op, findErr := h.lifecycle.Find(context.Background(), res.OperationId, "alice")
	require.Nil(t, findErr)
	assert.Equal(t, operation.Failed, op.Status)
	require.Len(t, op.Errors, 1)
	assert.Equal(t, "EXECUTION", op.Errors[0].Code)
	assert.Equal(t, "renderer crashed", op.Errors[0].Message)
}

func TestAsyncUnknownFunction(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(asyncRequest("render", nil))
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusFunctionNotFound, err.Code())
}

func TestAsyncOptions(t *testing.T) {
	h := newHarness(t)
	registerRender(t, h)

	res, err := h.call(asyncRequest("render", map[string]string{
		OptionAsyncTtl:      "2h",
		OptionAsyncCallback: "https://callbacks.example.com/render",
	}))
	require.Nil(t, err)

	h.async.Drain()

	op, findErr := h.lifecycle.Find(context.Background(), res.OperationId, "alice")
	require.Nil(t, findErr)
	assert.Equal(t, h.now+2*60*60*1000, op.ExpiresAt)
	assert.Equal(t, "https://callbacks.example.com/render", op.Metadata.Callback)
}

func TestAsyncInvalidTtl(t *testing.T) {
	h := newHarness(t)
	registerRender(t, h)

	_, err := h.call(asyncRequest("render", map[string]string{OptionAsyncTtl: "eventually"}))
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusFieldValidationError, err.Code())
}

func TestOperationStatusBuiltin(t *testing.T) {
	h := newHarness(t)
	registerRender(t, h)

	accepted, err := h.call(asyncRequest("render", nil))
	require.Nil(t, err)
	h.async.Drain()

	res, err := h.call(&t_api.CallRequest{
		Function:  FnOperationStatus,
		Arguments: []byte(fmt.Sprintf(`{"id":"%s"}`, accepted.OperationId)),
	})
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusOK, res.Status)

	var op operation.Operation
	require.NoError(t, json.Unmarshal(res.Data, &op))
	assert.Equal(t, accepted.OperationId, op.Id)
	assert.Equal(t, operation.Completed, op.Status)
}

func TestOperationStatusOwnership(t *testing.T) {
	h := newHarness(t)
	registerRender(t, h)

	accepted, err := h.call(asyncRequest("render", nil))
	require.Nil(t, err)
	h.async.Drain()

	// another owner gets not found, never forbidden
	_, err = h.call(&t_api.CallRequest{
		Function:  FnOperationStatus,
		Arguments: []byte(fmt.Sprintf(`{"id":"%s"}`, accepted.OperationId)),
		Owner:     "bob",
	})
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusOperationNotFound, err.Code())
}

func TestOperationListBuiltin(t *testing.T) {
	h := newHarness(t)
	registerRender(t, h)

	for i := 0; i < 3; i++ {
		_, err := h.call(asyncRequest("render", nil))
		require.Nil(t, err)
	}
	h.async.Drain()

	res, err := h.call(&t_api.CallRequest{
		Function:  FnOperationList,
		Arguments: []byte(`{"limit":2}`),
	})
	require.Nil(t, err)

	var page struct {
		Operations []*operation.Operation `json:"operations"`
		Cursor     string                 `json:"cursor"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &page))
	assert.Len(t, page.Operations, 2)
	require.NotEmpty(t, page.Cursor)

	// second page picks up where the cursor left off
	res, err = h.call(&t_api.CallRequest{
		Function:  FnOperationList,
		Arguments: []byte(fmt.Sprintf(`{"cursor":"%s"}`, page.Cursor)),
	})
	require.Nil(t, err)

	require.NoError(t, json.Unmarshal(res.Data, &page))
	assert.Len(t, page.Operations, 1)
}

func TestOperationListDefaultLimitPaginates(t *testing.T) {
	h := newHarness(t)
	registerRender(t, h)

	// one more operation than the server-side page size
	for i := 0; i < 11; i++ {
		_, err := h.call(asyncRequest("render", nil))
		require.Nil(t, err)
	}
	h.async.Drain()

	// no limit given, the clamped page size still yields a cursor
	res, err := h.call(&t_api.CallRequest{
		Function:  FnOperationList,
		Arguments: []byte(`{}`),
	})
	require.Nil(t, err)

	var page struct {
		Operations []*operation.Operation `json:"operations"`
		Cursor     string                 `json:"cursor"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &page))
	assert.Len(t, page.Operations, 10)
	require.NotEmpty(t, page.Cursor)

	res, err = h.call(&t_api.CallRequest{
		Function:  FnOperationList,
		Arguments: []byte(fmt.Sprintf(`{"cursor":"%s"}`, page.Cursor)),
	})
	require.Nil(t, err)

	page.Cursor = ""
	require.NoError(t, json.Unmarshal(res.Data, &page))
	assert.Len(t, page.Operations, 1)
	assert.Empty(t, page.Cursor)
}

func TestOperationListInvalidState(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(&t_api.CallRequest{
		Function:  FnOperationList,
		Arguments: []byte(`{"states":["DONE"]}`),
	})
	require.NotNil(t, err)
	assert.Equal(t, t_api.StatusFieldValidationError, err.Code())
}

func TestAsyncCancelledBeforeCommit(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, h.registry.Register(&registry.Function{
		Name:    "render",
		Version: "1",
		Handler: func(ctx context.Context, args []byte) (*operation.Value, error) {
			close(started)
			<-release
			return &operation.Value{Data: []byte(`"report.pdf"`)}, nil
		},
	}))

	accepted, err := h.call(asyncRequest("render", nil))
	require.Nil(t, err)

	// cancel while the handler is mid-flight
	<-started
	_, err = h.call(&t_api.CallRequest{
		Function:  FnOperationCancel,
		Arguments: []byte(fmt.Sprintf(`{"id":"%s"}`, accepted.OperationId)),
	})
	require.Nil(t, err)

	close(release)
	h.async.Drain()

	// the worker observed the cancellation and discarded its result
	op, findErr := h.lifecycle.Find(context.Background(), accepted.OperationId, "alice")
	require.Nil(t, findErr)
	assert.Equal(t, operation.Cancelled, op.Status)
	assert.Nil(t, op.Result)
}
