package lock

type LockRecord struct {
	Key        string
	Owner      string
	AcquiredAt int64
	ExpiresAt  int64
}

// Expired reports whether the lock is considered free at time t.
func (r *LockRecord) Expired(t int64) bool {
	return r.ExpiresAt <= t
}

func (r *LockRecord) Lock() (*Lock, error) {
	return &Lock{
		Key:        r.Key,
		Owner:      r.Owner,
		AcquiredAt: r.AcquiredAt,
		ExpiresAt:  r.ExpiresAt,
	}, nil
}
