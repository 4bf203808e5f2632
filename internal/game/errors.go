package game

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession         = errors.New("no game session is open")
	ErrNoAirportSelected = errors.New("no airport selected")
	ErrUsernameRequired  = errors.New("username is required")
	ErrInvalidState      = errors.New("action not allowed in the current state")
)

// ValidationError is a locally refused action. No request was sent.
type ValidationError struct {
	Action Action
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Action, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(action Action, err error, detail string) error {
	return &ValidationError{Action: action, Err: err, Detail: detail}
}

// IsValidation reports whether err was raised before any network call.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
