package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

func noop(ctx context.Context, args []byte) (*operation.Value, error) {
	return nil, nil
}

func TestRegister(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(&Function{Name: "f", Version: "1", Handler: noop}))
	require.NoError(t, r.Register(&Function{Name: "f", Version: "2", Handler: noop}))

	assert.Error(t, r.Register(&Function{Name: "", Version: "1", Handler: noop}))
	assert.Error(t, r.Register(&Function{Name: "f", Version: "", Handler: noop}))
	assert.Error(t, r.Register(&Function{Name: "f", Version: "1", Handler: nil}))

	// duplicate registrations are rejected
	assert.Error(t, r.Register(&Function{Name: "f", Version: "1", Handler: noop}))
}

func TestLookup(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(&Function{Name: "f", Version: "1", Handler: noop, Deprecated: true}))

	fn, ok := r.Lookup("f", "1")
	require.True(t, ok)
	assert.True(t, fn.Deprecated)

	_, ok = r.Lookup("f", "2")
	assert.False(t, ok)

	_, ok = r.Lookup("g", "1")
	assert.False(t, ok)
}
