package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lanrelay/lanrelay/internal/protocol"
)

// Programming faults: the caller violated the Client contract.
var (
	ErrAlreadyConnected = errors.New("session: already connected")
	ErrNotConnected     = errors.New("session: not connected")
	ErrSendQueueFull    = errors.New("session: send queue full")
)

// AuthError reports a handshake refused by the relay's authenticator.
type AuthError struct {
	StatusCode int
	Message    string
	// Reason is the server-supplied explanation, when the refusal carried one.
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

func (e *AuthError) Code() string { return protocol.CodeAuthenticationFailed }

// ConnectionError wraps any transport failure that is not an authentication
// refusal.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Code() string { return protocol.CodeConnectionFailed }

// ValidationError reports a connection the relay closed with a policy
// violation right after the upgrade.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func (e *ValidationError) Code() string { return protocol.CodeValidationFailed }

func newAuthError(status int, reason string) *AuthError {
	msg := "invalid credentials"
	if status == http.StatusUnauthorized {
		msg = "authentication required"
	}
	return &AuthError{StatusCode: status, Message: msg, Reason: reason}
}
