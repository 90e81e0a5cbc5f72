package transport

import (
	"errors"
	"fmt"

	"github.com/JZwlth/iotauth/pkg/wire"
)

// Transport errors.
var (
	// ErrTransport indicates a connect, accept, send or receive failure.
	// It is fatal to the affected connection only.
	ErrTransport = errors.New("transport error")

	// ErrHandshakeRejected indicates the Auth declined the request, sent an
	// unexpected frame or closed the channel before responding.
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrInvalidPhase indicates an exchange step taken out of order.
	ErrInvalidPhase = errors.New("invalid exchange phase")

	// ErrServerClosed is returned by Server methods after Stop.
	ErrServerClosed = errors.New("server closed")

	// ErrConnectionClosed indicates use of a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrOutputFull indicates a client that reads too slowly to keep up
	// with its replies.
	ErrOutputFull = errors.New("output buffer full")
)

// AlertError reports an AUTH_ALERT received from the Auth.
type AlertError struct {
	Code wire.AlertCode
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("%s: auth alert %s", ErrHandshakeRejected, e.Code)
}

// Unwrap makes AlertError match ErrHandshakeRejected.
func (e *AlertError) Unwrap() error {
	return ErrHandshakeRejected
}
