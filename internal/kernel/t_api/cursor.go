package t_api

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

// Cursors are opaque continuation tokens. The next page's query is
// signed into a compact JWT so a client cannot forge or alter it, only
// hand it back.

var cursorSecret = []byte("fulcrum")

// SetCursorSecret installs the secret used to sign cursor tokens. Call
// once at startup, before any cursor is issued. Tokens signed with a
// previous secret stop verifying, which simply invalidates outstanding
// pagination.
func SetCursorSecret(secret string) {
	if secret != "" {
		cursorSecret = []byte(secret)
	}
}

type Cursor[T any] struct {
	Next *T
}

type cursorClaims[T any] struct {
	jwt.RegisteredClaims
	Next *T `json:"next"`
}

func NewCursor[T any](tokenString string) (*Cursor[T], error) {
	cursor := &Cursor[T]{}
	if err := cursor.Decode(tokenString); err != nil {
		return nil, err
	}
	return cursor, nil
}

func (c *Cursor[T]) Encode() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &cursorClaims[T]{Next: c.Next})
	return token.SignedString(cursorSecret)
}

func (c *Cursor[T]) Decode(tokenString string) error {
	claims := &cursorClaims[T]{}

	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (any, error) { return cursorSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return err
	}

	c.Next = claims.Next
	return nil
}

func (c *Cursor[T]) MarshalJSON() ([]byte, error) {
	tokenString, err := c.Encode()
	if err != nil {
		return nil, err
	}
	return json.Marshal(tokenString)
}

func (c *Cursor[T]) UnmarshalJSON(data []byte) error {
	var tokenString string
	if err := json.Unmarshal(data, &tokenString); err != nil {
		return err
	}
	return c.Decode(tokenString)
}

func (c *Cursor[T]) String() string {
	tokenString, _ := c.Encode()
	return tokenString
}
