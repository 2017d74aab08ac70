package invite

import "errors"

// ErrExhausted is returned when every generation attempt collided with
// an existing invite code.
var ErrExhausted = errors.New("invite: exhausted retries generating a unique code")
