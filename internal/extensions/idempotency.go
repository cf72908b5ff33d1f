package extensions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store"
	"github.com/fulcrumhq/fulcrum/internal/coordinator"
	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/pipeline"
	"github.com/fulcrumhq/fulcrum/pkg/idempotency"
)

const idempotencyState = "idempotency.state"

type IdempotencyConfig struct {
	DefaultTtl time.Duration `mapstructure:"defaultTtl"`
	MaxTtl     time.Duration `mapstructure:"maxTtl"`
	LockTtl    time.Duration `mapstructure:"lockTtl"`
}

// Idempotency caches responses keyed by a client-supplied token plus
// function identity. A concurrent call with the same token is bounced
// with "still processing" while the first holds the cache lock; the lock
// is released on every exit path.
type Idempotency struct {
	store       store.Store
	coordinator *coordinator.Coordinator
	config      *IdempotencyConfig
	time        func() int64
}

type idempotencyCacheState struct {
	key      idempotency.Key
	lockKey  string
	owner    string
	argsHash string
	ttl      time.Duration
	released bool
}

func NewIdempotency(s store.Store, c *coordinator.Coordinator, config *IdempotencyConfig) *Idempotency {
	return &Idempotency{
		store:       s,
		coordinator: c,
		config:      config,
		time:        func() int64 { return time.Now().UnixMilli() },
	}
}

// WithClock overrides the extension's clock, for tests.
func (x *Idempotency) WithClock(now func() int64) *Idempotency {
	x.time = now
	return x
}

func (x *Idempotency) Name() string {
	return "idempotency"
}

func (x *Idempotency) Fatal() bool {
	return true
}

func (x *Idempotency) Subscriptions() []pipeline.Subscription {
	return []pipeline.Subscription{
		{Event: pipeline.ExecutingFunction, Priority: pipeline.PriorityShortCircuit, Handler: x.beforeExecute},
		{Event: pipeline.FunctionExecuted, Priority: pipeline.PriorityShortCircuit, Handler: x.afterExecute},
	}
}

func (x *Idempotency) beforeExecute(ctx context.Context, e *pipeline.Event) error {
	request := e.Request()

	rawKey, ok := request.Option(OptionIdempotencyKey)
	if !ok {
		return nil
	}

	key := idempotency.Key(rawKey)
	if !key.Valid() {
		return t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("invalid idempotency key"))
	}

	ttl := x.config.DefaultTtl
	if rawTtl, ok := request.Option(OptionIdempotencyTtl); ok {
		parsed, err := time.ParseDuration(rawTtl)
		if err != nil || parsed <= 0 || parsed > x.config.MaxTtl {
			return t_api.NewError(t_api.StatusFieldValidationError, fmt.Errorf("invalid idempotency ttl"))
		}
		ttl = parsed
	}

	argsHash := hash(request.Arguments)

	rec, err := x.store.ReadIdempotencyRecord(ctx, key, request.Function, request.Version)
	if err != nil {
		return t_api.NewError(t_api.StatusStoreError, err)
	}

	if rec != nil && !rec.Expired(x.time()) {
		// a second call with the same key but different arguments is a
		// conflict, not a cache hit; the offending field is named, the
		// arguments are not echoed back
		if rec.ArgumentsHash != argsHash {
			return t_api.NewError(t_api.StatusIdempotencyKeyConflict, fmt.Errorf("idempotency key reused with a different argumentsHash"))
		}

		response := &t_api.CallResponse{}
		if err := json.Unmarshal(rec.Response, response); err != nil {
			return t_api.NewError(t_api.StatusInternalError, err)
		}

		e.SetResponse(response)
		e.StopPropagation()
		return nil
	}

	// cache miss, take the cache lock before executing
	lockKey := cacheKey(key, request.Function, request.Version) + ":lock"

	l, acquireErr := x.coordinator.Acquire(ctx, lockKey, x.config.LockTtl)
	if acquireErr != nil {
		if acquireErr.Code() == t_api.StatusLockBusy {
			// someone else is executing this call right now, the client
			// polls by retrying
			e.SetResponse(&t_api.CallResponse{Status: t_api.StatusOperationStillProcessing})
			e.StopPropagation()
			return nil
		}
		return acquireErr
	}

	state := &idempotencyCacheState{
		key:      key,
		lockKey:  lockKey,
		owner:    l.Owner,
		argsHash: argsHash,
		ttl:      ttl,
	}
	e.Set(idempotencyState, state)

	// guaranteed cleanup: the lock must not outlive this invocation no
	// matter how it exits
	e.Defer(func(ctx context.Context) {
		x.release(ctx, state)
	})

	return nil
}

func (x *Idempotency) afterExecute(ctx context.Context, e *pipeline.Event) error {
	v, ok := e.Get(idempotencyState)
	if !ok {
		return nil
	}
	state := v.(*idempotencyCacheState)

	defer x.release(ctx, state)

	// only successful responses are worth replaying, a failure must be
	// retryable with the same key
	response := e.Response()
	if response == nil || response.Status.HTTP()/100 != 2 {
		return nil
	}

	data, err := json.Marshal(response)
	if err != nil {
		return t_api.NewError(t_api.StatusInternalError, err)
	}

	now := x.time()
	request := e.Request()

	if _, err := x.store.WriteIdempotencyRecord(ctx, &idempotency.Record{
		Key:           state.key,
		Function:      request.Function,
		Version:       request.Version,
		ArgumentsHash: state.argsHash,
		Response:      data,
		CachedOn:      now,
		ExpiresAt:     now + state.ttl.Milliseconds(),
	}); err != nil {
		return t_api.NewError(t_api.StatusStoreError, err)
	}

	return nil
}

func (x *Idempotency) release(ctx context.Context, state *idempotencyCacheState) {
	if state.released {
		return
	}
	state.released = true

	if _, err := x.coordinator.Release(ctx, state.lockKey, state.owner); err != nil {
		// the lock self-heals via TTL, but a failed release is still
		// worth a log line
		slog.Warn("failed to release idempotency lock", "key", state.lockKey, "err", err)
	}
}

func cacheKey(key idempotency.Key, function string, version string) string {
	return "idem:" + hash([]byte(fmt.Sprintf("%s:%s:%s", key, function, version)))
}

func hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
