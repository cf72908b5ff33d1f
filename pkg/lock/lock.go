package lock

import "fmt"

type Lock struct {
	Key        string `json:"key"`
	Owner      string `json:"owner"`
	AcquiredAt int64  `json:"acquiredAt"`
	ExpiresAt  int64  `json:"expiresAt"`
}

func (l *Lock) String() string {
	return fmt.Sprintf(
		"Lock(key=%s, owner=%s, acquiredAt=%d, expiresAt=%d)",
		l.Key,
		l.Owner,
		l.AcquiredAt,
		l.ExpiresAt,
	)
}

// Expired reports whether the lock is considered free at time t.
func (l *Lock) Expired(t int64) bool {
	return l.ExpiresAt <= t
}

// Status is the read-only view returned by lock.status, owner withheld
// unless the caller already holds it.
type Status struct {
	Locked     bool   `json:"locked"`
	Owner      string `json:"owner,omitempty"`
	AcquiredAt *int64 `json:"acquiredAt,omitempty"`
	ExpiresAt  *int64 `json:"expiresAt,omitempty"`
}
