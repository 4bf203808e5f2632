package skyquestdto

import "fmt"

// AuthorityError is a non-success answer from the remote authority.
// Status is 0 when no response was received at all.
type AuthorityError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *AuthorityError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: authority unavailable: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s: authority error: status=%d %s", e.Op, e.Status, msg)
}

func (e *AuthorityError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may reasonably try again.
func (e *AuthorityError) Retryable() bool {
	switch e.Status {
	case 0, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
