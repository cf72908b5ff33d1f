package idempotency

import "regexp"

type Key string

// keyPattern bounds client-supplied keys: 1-255 chars, restricted charset.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9\-_:.]{1,255}$`)

func (i1 *Key) Match(i2 *Key) bool {
	return i1 != nil && i2 != nil && *i1 == *i2
}

func (i *Key) Valid() bool {
	return i != nil && keyPattern.MatchString(string(*i))
}

func (i *Key) String() string {
	return string(*i)
}
