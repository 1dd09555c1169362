package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

// Configuration errors
var (
	ErrNoConnections = errors.New("no connections provided to client")
	ErrNilConnection = errors.New("nil connection provided to client")
)

// Transaction errors
var (
	ErrFinished        = errors.New("transaction has already been committed or discarded")
	ErrReadOnly        = errors.New("readonly transaction cannot run mutations or be committed")
	ErrAborted         = errors.New("transaction has been aborted, please retry")
	ErrStartTsMismatch = errors.New("start ts mismatch")
)

// ConfigurationError reports a client that cannot be built. It is permanent:
// retrying with the same inputs fails the same way.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err came from building a client.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTimeout reports whether err is a deadline expiry or cancellation.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		api.StatusCode(err) == api.CodeDeadlineExceeded
}

// IsTransportError reports whether err is a failure to reach or talk to a
// server. Such errors may succeed on another attempt.
func IsTransportError(err error) bool {
	if err == nil || IsTimeout(err) {
		return false
	}
	switch api.StatusCode(err) {
	case api.CodeUnavailable, api.CodeInternal:
		return true
	}
	return false
}

// IsProtocolError reports whether err reflects transaction logic: conflicts,
// use after commit/discard, or a request the server rejected. Callers
// typically restart the transaction or fix the request.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFinished) || errors.Is(err, ErrReadOnly) ||
		errors.Is(err, ErrAborted) || errors.Is(err, ErrStartTsMismatch) {
		return true
	}
	switch api.StatusCode(err) {
	case api.CodeAborted, api.CodeInvalidArgument, api.CodeNotFound:
		return true
	}
	return false
}

// IsRetryable reports whether a caller may reasonably retry the same call.
func IsRetryable(err error) bool {
	return IsTransportError(err) || IsTimeout(err)
}

func isAborted(err error) bool {
	return api.StatusCode(err) == api.CodeAborted
}
