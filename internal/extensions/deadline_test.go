package extensions

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
)

func TestDeadlineExceeded(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	res, err := h.call(&t_api.CallRequest{
		Function:  "charge",
		Arguments: []byte(`{}`),
		Options:   map[string]string{OptionDeadline: fmt.Sprintf("%d", h.now)},
	})
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusDeadlineExceeded, res.Status)
	assert.Equal(t, 0, calls)
}

func TestDeadlineInFuture(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	res, err := h.call(&t_api.CallRequest{
		Function:  "charge",
		Arguments: []byte(`{}`),
		Options:   map[string]string{OptionDeadline: fmt.Sprintf("%d", h.now+1)},
	})
	require.Nil(t, err)
	assert.Equal(t, t_api.StatusOK, res.Status)
	assert.Equal(t, 1, calls)
}

func TestDeadlineInvalid(t *testing.T) {
	h := newHarness(t)

	calls := 0
	registerCharge(t, h, &calls)

	for _, deadline := range []string{"soon", "-1", "0"} {
		_, err := h.call(&t_api.CallRequest{
			Function:  "charge",
			Arguments: []byte(`{}`),
			Options:   map[string]string{OptionDeadline: deadline},
		})
		require.NotNil(t, err, deadline)
		assert.Equal(t, t_api.StatusFieldValidationError, err.Code())
	}

	assert.Equal(t, 0, calls)
}
