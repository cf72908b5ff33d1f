package idempotency

import "fmt"

// Record is a cached response keyed by a client-supplied idempotency
// key plus function identity. A second call with the same key but a
// different arguments hash is a conflict, not a cache hit.
type Record struct {
	Key           Key    `json:"key"`
	Function      string `json:"function"`
	Version       string `json:"version"`
	ArgumentsHash string `json:"argumentsHash"`
	Response      []byte `json:"response"`
	CachedOn      int64  `json:"cachedOn"`
	ExpiresAt     int64  `json:"expiresAt"`
}

func (r *Record) String() string {
	return fmt.Sprintf(
		"Record(key=%s, function=%s/%s, argumentsHash=%s, expiresAt=%d)",
		r.Key,
		r.Function,
		r.Version,
		r.ArgumentsHash,
		r.ExpiresAt,
	)
}

// Expired reports whether the cached response is stale at time t.
func (r *Record) Expired(t int64) bool {
	return r.ExpiresAt <= t
}
