package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrNotPending = errors.New("conversion is not pending")

	// ErrSecretMissing: the document server demands a signed token but no
	// secret is configured here.
	ErrSecretMissing = errors.New("document server requires a secret but none is configured")
	// ErrSecretRejected: a token was sent and the document server refused it.
	ErrSecretRejected = errors.New("document server rejected the configured secret")
)

// AuthErrorCode is the ConvertService error code for token failures.
const AuthErrorCode = -8

type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Setting, e.Reason)
}

// TransportError means the remote server could not be reached or the
// exchange was cut short.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the remote server answered but reported a failure.
type ProtocolError struct {
	StatusCode int
	Code       int
	Message    string
	Body       string
}

func (e *ProtocolError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "conversion error"
	}
	var out string
	switch {
	case e.Code != 0:
		out = fmt.Sprintf("document server error %d: %s", e.Code, msg)
	case e.StatusCode != 0:
		out = fmt.Sprintf("document server returned status %d: %s", e.StatusCode, msg)
	default:
		out = "document server: " + msg
	}
	if e.Body != "" {
		out += ". Response was: " + e.Body
	}
	return out
}

type AuthenticationError struct {
	Reason error
	*ProtocolError
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%v (%v)", e.Reason, e.ProtocolError)
}

func (e *AuthenticationError) Unwrap() []error {
	return []error{e.Reason, e.ProtocolError}
}
