package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 10 * time.Millisecond
	max := 100 * time.Millisecond

	assert.Equal(t, 10*time.Millisecond, Backoff(0, base, max))
	assert.Equal(t, 20*time.Millisecond, Backoff(1, base, max))
	assert.Equal(t, 40*time.Millisecond, Backoff(2, base, max))
	assert.Equal(t, 80*time.Millisecond, Backoff(3, base, max))
	assert.Equal(t, max, Backoff(4, base, max))
	assert.Equal(t, max, Backoff(10, base, max))
}

func TestNext(t *testing.T) {
	// every minute
	curr := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC).UnixMilli()
	next, err := Next(curr, "* * * * *")
	assert.Nil(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC).UnixMilli(), next)

	_, err = Next(curr, "not a cron")
	assert.NotNil(t, err)
}
