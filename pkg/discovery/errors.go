package discovery

import (
	"fmt"
)

// ConnectError is a transport failure while establishing the channel to the
// registry. It is never retried here.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RegistrationError means the registry did not hand out an identity.
type RegistrationError struct {
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register: %v", e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// HeartbeatFailure ends a heartbeat loop.
type HeartbeatFailure struct {
	ID       string
	Attempts int
	Err      error
}

func (e *HeartbeatFailure) Error() string {
	return fmt.Sprintf("heartbeat %s failed after %d attempt(s): %v", e.ID, e.Attempts, e.Err)
}

func (e *HeartbeatFailure) Unwrap() error { return e.Err }
