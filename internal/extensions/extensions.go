// Package extensions holds the policy modules that subscribe to the
// pipeline: idempotency caching, asynchronous execution, client-driven
// atomic locks, cooperative cancellation, deadlines and deprecation
// warnings.
//
// Per-call behavior is driven by the request's extension options, an
// opaque key/value map. Each extension owns its option keys:
//
//	idempotency.key  client-supplied idempotency token
//	idempotency.ttl  cache duration, Go duration string
//	async            "true" to execute asynchronously
//	async.ttl        operation retention, Go duration string
//	async.callback   optional callback address stored on the operation
//	deadline         absolute unix ms deadline for the call
package extensions

const (
	OptionIdempotencyKey = "idempotency.key"
	OptionIdempotencyTtl = "idempotency.ttl"
	OptionAsync          = "async"
	OptionAsyncTtl       = "async.ttl"
	OptionAsyncCallback  = "async.callback"
	OptionDeadline       = "deadline"
)

// Builtin functions served by extensions rather than the registry.
const (
	FnOperationStatus  = "operation.status"
	FnOperationList    = "operation.list"
	FnOperationCancel  = "operation.cancel"
	FnLockAcquire      = "lock.acquire"
	FnLockRelease      = "lock.release"
	FnLockForceRelease = "lock.forceRelease"
	FnLockStatus       = "lock.status"
)
