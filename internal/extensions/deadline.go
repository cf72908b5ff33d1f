package extensions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/pipeline"
)

// Deadline fast-fails calls whose absolute deadline already elapsed,
// before any other extension spends work on them.
type Deadline struct {
	time func() int64
}

func NewDeadline() *Deadline {
	return &Deadline{
		time: func() int64 { return time.Now().UnixMilli() },
	}
}

// WithClock overrides the extension's clock, for tests.
func (x *Deadline) WithClock(now func() int64) *Deadline {
	x.time = now
	return x
}

func (x *Deadline) Name() string {
	return "deadline"
}

func (x *Deadline) Fatal() bool {
	return true
}

func (x *Deadline) Subscriptions() []pipeline.Subscription {
	return []pipeline.Subscription{
		{Event: pipeline.RequestValidated, Priority: pipeline.PriorityFastFail, Handler: x.onRequestValidated},
	}
}

func (x *Deadline) onRequestValidated(ctx context.Context, e *pipeline.Event) error {
	raw, ok := e.Request().Option(OptionDeadline)
	if !ok {
		return nil
	}

	deadline, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || deadline <= 0 {
		return t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("invalid deadline '%s'", raw))
	}

	if deadline <= x.time() {
		e.SetResponse(&t_api.CallResponse{Status: t_api.StatusDeadlineExceeded})
		e.StopPropagation()
	}

	return nil
}
