package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session handling, checked with errors.Is()
var (
	// ErrPingTimeout indicates the controller never answered the
	// reachability probe within timeout_ping.
	ErrPingTimeout = errors.New("controller did not respond to ping")

	// ErrControllerDied indicates the controller process dropped the
	// connection after the session was established.
	ErrControllerDied = errors.New("controller connection lost")
)

// ConnectionError reports an unreachable or dead controller. It always
// carries a retry hint for the operator and is never silently swallowed.
type ConnectionError struct {
	Err       error
	RetryHint string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %v (%s)", e.Err, e.RetryHint)
}

// Unwrap supports errors.Is/As
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
