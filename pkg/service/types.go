package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JZwlth/iotauth/pkg/discovery"
	"github.com/JZwlth/iotauth/pkg/handshake"
	"github.com/JZwlth/iotauth/pkg/log"
	"github.com/JZwlth/iotauth/pkg/metrics"
	"github.com/JZwlth/iotauth/pkg/transport"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrInvalidConfig  = errors.New("invalid configuration")

	// ErrBusy is reported when a frame arrives while the pending queue of
	// its connection is full.
	ErrBusy = errors.New("too many pending frames")

	// ErrRateLimited is reported when a connection asks for session keys
	// faster than allowed.
	ErrRateLimited = errors.New("session request rate exceeded")

	// ErrAbandoned is reported for an exchange whose client went away first.
	ErrAbandoned = errors.New("exchange abandoned")
)

// PingReply is the fixed answer to CLIENT_PING.
const PingReply = "Hello"

// Defaults.
const (
	DefaultMaxPending = 16
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateRunning - service is accepting clients.
	StateRunning

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// HandlerState is the state of one client connection handler.
type HandlerState uint8

const (
	// HandlerAwaitClientFrame - a frame is being decoded and dispatched.
	HandlerAwaitClientFrame HandlerState = iota

	// HandlerAwaitAuthExchange - a session key exchange is in flight.
	// Further frames are queued.
	HandlerAwaitAuthExchange

	// HandlerRespondToClient - a reply is being queued for the client.
	HandlerRespondToClient

	// HandlerIdle - waiting for the next frame.
	HandlerIdle

	// HandlerClosed - the connection is gone.
	HandlerClosed
)

// String returns the state name.
func (s HandlerState) String() string {
	switch s {
	case HandlerAwaitClientFrame:
		return "AWAIT_CLIENT_FRAME"
	case HandlerAwaitAuthExchange:
		return "AWAIT_AUTH_EXCHANGE"
	case HandlerRespondToClient:
		return "RESPOND_TO_CLIENT"
	case HandlerIdle:
		return "IDLE"
	case HandlerClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session describes a session key exchange made on behalf of a client.
type Session struct {
	ExchangeID   string
	ConnectionID string
	ClientID     uint32
	Purpose      string

	// Response is set once the Auth accepted the request.
	Response *transport.AuthResponse
}

// SessionKeyFunc turns an accepted exchange into bytes for the client.
// A nil reply sends nothing.
type SessionKeyFunc func(ctx context.Context, s *Session) ([]byte, error)

// FailureFunc returns bytes to send to the client after a failed exchange.
// A nil reply sends nothing.
type FailureFunc func(s *Session, err error) []byte

// Config configures an EntityService.
type Config struct {
	// ListenAddress is the client-facing address (e.g., ":21900").
	ListenAddress string

	// Identity is the entity's name, purpose template and number of keys.
	// It is never modified; each request derives its own purpose.
	Identity handshake.Identity

	// Auth runs session key exchanges. Required.
	Auth transport.AuthExchanger

	// MaxPending bounds the frames queued per connection while an exchange
	// is in flight (default: 16).
	MaxPending int

	// SessionRate limits session requests per second per connection.
	// Zero disables the limit.
	SessionRate float64

	// SessionBurst is the limiter burst (default: max(1, SessionRate)).
	SessionBurst int

	// ReadSize is the buffer size of one client read.
	ReadSize int

	// WriteTimeout bounds one socket write to a client. Output queued for
	// a client is capped at MaxPending*ReadSize bytes.
	WriteTimeout time.Duration

	// Logger is the operational logger. If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events (optional).
	ProtocolLogger log.Logger

	// Metrics records connection and exchange metrics (optional).
	Metrics *metrics.Metrics

	// Advertiser announces the server once it listens (optional).
	Advertiser discovery.Advertiser

	// Advertisement is what Advertiser announces. Name and Port are filled
	// in when empty.
	Advertisement discovery.EntityInfo

	// OnSessionKey delivers accepted exchanges (optional). It runs outside
	// the event loop.
	OnSessionKey SessionKeyFunc

	// OnExchangeFailure reports failed exchanges to the client (optional).
	OnExchangeFailure FailureFunc

	// NewExchangeID generates exchange ids (default: ULID).
	NewExchangeID func() string
}

// DefaultConfig returns a config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddress: fmt.Sprintf(":%d", transport.DefaultPort),
		MaxPending:    DefaultMaxPending,
		WriteTimeout:  transport.DefaultWriteTimeout,
		ReadSize:      transport.DefaultReadSize,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Auth == nil {
		return fmt.Errorf("%w: auth exchanger is required", ErrInvalidConfig)
	}
	if c.Identity.Name == "" {
		return fmt.Errorf("%w: entity name is required", ErrInvalidConfig)
	}
	if !strings.Contains(c.Identity.Purpose, handshake.PurposePlaceholder) {
		return fmt.Errorf("%w: purpose %q has no %s placeholder", ErrInvalidConfig, c.Identity.Purpose, handshake.PurposePlaceholder)
	}
	if c.MaxPending < 0 {
		return fmt.Errorf("%w: negative max pending", ErrInvalidConfig)
	}
	if c.SessionRate < 0 || c.SessionBurst < 0 {
		return fmt.Errorf("%w: negative session rate", ErrInvalidConfig)
	}
	return nil
}

// EventType identifies a service event.
type EventType uint8

const (
	// EventConnected - client connection registered.
	EventConnected EventType = iota

	// EventDisconnected - client connection deregistered.
	EventDisconnected

	// EventExchangeStarted - session key exchange started.
	EventExchangeStarted

	// EventExchangeSucceeded - the Auth accepted the request.
	EventExchangeSucceeded

	// EventExchangeFailed - the exchange failed or was abandoned.
	EventExchangeFailed

	// EventFrameDropped - a client frame was not processed.
	EventFrameDropped
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventExchangeStarted:
		return "EXCHANGE_STARTED"
	case EventExchangeSucceeded:
		return "EXCHANGE_SUCCEEDED"
	case EventExchangeFailed:
		return "EXCHANGE_FAILED"
	case EventFrameDropped:
		return "FRAME_DROPPED"
	default:
		return "UNKNOWN"
	}
}

// Event represents a service event.
type Event struct {
	Type         EventType
	ConnectionID string

	// ExchangeID, ClientID and Purpose are set for exchange events.
	ExchangeID string
	ClientID   uint32
	Purpose    string

	// Response is set for EventExchangeSucceeded.
	Response *transport.AuthResponse

	// Error is set for failures and dropped frames.
	Error error
}

// EventHandler handles service events. Handlers run on the server's event
// loop and must not block.
type EventHandler func(Event)
