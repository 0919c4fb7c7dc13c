package qbittorrent

import (
	"errors"
	"fmt"
)

// ErrAuthentication matches any *AuthenticationError via errors.Is.
var ErrAuthentication = errors.New("qbittorrent authentication failed")

// AuthenticationError reports that no session could be established, either on
// the first login or on the re-login after a 403.
type AuthenticationError struct {
	Endpoint string // request that needed the session; empty for a direct Login call
	Status   int    // login response status, zero when no response was received
	Err      error
}

func (e *AuthenticationError) Error() string {
	msg := "authentication failed"
	if e.Endpoint != "" {
		msg += " for " + e.Endpoint
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (login status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAuthentication) match.
func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// RequestError reports a downstream failure other than the handled 403.
type RequestError struct {
	Endpoint string
	Status   int    // zero for transport errors
	Payload  string // downstream error body, truncated
	Err      error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status != 0 && e.Payload != "":
		return fmt.Sprintf("api %s returned status %d: %s", e.Endpoint, e.Status, e.Payload)
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("api %s (status %d): %v", e.Endpoint, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("api %s returned status %d", e.Endpoint, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("api %s: %v", e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("api %s failed", e.Endpoint)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }
