// Package invite generates and validates the short codes non-host
// participants use to join a session.
package invite

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 6
	maxTries = 5
)

// Exists probes whether a code is already in use by a non-terminal
// session. Implemented by the store.
type Exists func(code string) (bool, error)

// Generate produces a unique 6-character uppercase alphanumeric code,
// retrying on collision. It gives up after maxTries and returns the
// last error seen (or a collision error if every try collided).
func Generate(exists Exists) (string, error) {
	var lastErr error
	for i := 0; i < maxTries; i++ {
		code, err := gonanoid.Generate(alphabet, length)
		if err != nil {
			return "", err
		}
		taken, err := exists(code)
		if err != nil {
			lastErr = err
			continue
		}
		if !taken {
			return code, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrExhausted
}

// Normalize upper-cases a user-supplied code for case-insensitive lookup.
func Normalize(code string) string {
	out := make([]byte, len(code))
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
