package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store/memory"
	"github.com/fulcrumhq/fulcrum/internal/metrics"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

func TestNewRejectsInvalidCron(t *testing.T) {
	_, err := New(memory.New(), metrics.New(prometheus.NewRegistry()), &Config{Cron: "never", Timeout: time.Second})
	assert.Error(t, err)
}

func TestReap(t *testing.T) {
	s := memory.New()
	m := metrics.New(prometheus.NewRegistry())

	r, err := New(s, m, &Config{Cron: "@every 1m", Timeout: time.Second})
	require.NoError(t, err)

	ok, storeErr := s.CreateOperation(context.Background(), &operation.OperationRecord{
		Id:        "op-old",
		Function:  "render",
		FnVersion: "1",
		Status:    operation.Completed,
		OwnerId:   "alice",
		ExpiresAt: 1000,
	})
	require.NoError(t, storeErr)
	require.True(t, ok)

	ok, storeErr = s.CreateOperation(context.Background(), &operation.OperationRecord{
		Id:        "op-new",
		Function:  "render",
		FnVersion: "1",
		Status:    operation.Pending,
		OwnerId:   "alice",
		ExpiresAt: 9000,
	})
	require.NoError(t, storeErr)
	require.True(t, ok)

	r.reap(1000)

	rec, storeErr := s.ReadOperation(context.Background(), "op-old")
	require.NoError(t, storeErr)
	assert.Nil(t, rec)

	rec, storeErr = s.ReadOperation(context.Background(), "op-new")
	require.NoError(t, storeErr)
	assert.NotNil(t, rec)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReapedTotal))
}

func TestStopUnblocksStart(t *testing.T) {
	r, err := New(memory.New(), metrics.New(prometheus.NewRegistry()), &Config{Cron: "@every 1h", Timeout: time.Second})
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		r.Start(make(chan error, 1))
		close(stopped)
	}()

	require.NoError(t, r.Stop())

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
