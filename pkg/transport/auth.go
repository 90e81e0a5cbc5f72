package transport

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/JZwlth/iotauth/pkg/handshake"
	"github.com/JZwlth/iotauth/pkg/log"
	"github.com/JZwlth/iotauth/pkg/wire"
)

// DefaultAuthTimeout bounds a whole exchange when the caller's context has
// no deadline.
const DefaultAuthTimeout = 10 * time.Second

// Phase is the state of one Auth exchange.
type Phase uint8

const (
	// PhaseConnecting is the initial phase while the channel is dialed.
	PhaseConnecting Phase = iota

	// PhaseAwaitAuthHello waits for the Auth's nonce.
	PhaseAwaitAuthHello

	// PhaseSendingRequest builds, signs and sends SESSION_KEY_REQ.
	PhaseSendingRequest

	// PhaseAwaitAuthResponse waits for AUTH_RESPONSE.
	PhaseAwaitAuthResponse

	// PhaseSucceeded is terminal: the Auth accepted the request.
	PhaseSucceeded

	// PhaseFailed is terminal: the exchange was aborted.
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseAwaitAuthHello:
		return "AWAIT_AUTH_HELLO"
	case PhaseSendingRequest:
		return "SENDING_REQUEST"
	case PhaseAwaitAuthResponse:
		return "AWAIT_AUTH_RESPONSE"
	case PhaseSucceeded:
		return "SUCCEEDED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further step is possible.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// AuthClientConfig configures the channel to the Authentication Service.
type AuthClientConfig struct {
	// Address of the Auth (host:port).
	Address string

	// AuthKey is the Auth's public key; requests are encrypted under it.
	AuthKey *rsa.PublicKey

	// EntityKey signs requests.
	EntityKey *handshake.EntityKey

	// Timeout bounds an exchange whose context has no deadline
	// (default: DefaultAuthTimeout).
	Timeout time.Duration

	// MaxMessageSize is the maximum Auth frame payload (default: 64KB).
	MaxMessageSize uint32

	// Logger for protocol logging (optional).
	Logger log.Logger

	// Dial opens the channel. Defaults to net.Dialer.DialContext.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// AuthClient runs session key exchanges against the Authentication Service.
// It holds no per-exchange state and is safe for concurrent use.
type AuthClient struct {
	config AuthClientConfig
}

// NewAuthClient creates a new Auth client.
func NewAuthClient(config AuthClientConfig) (*AuthClient, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("auth address is required")
	}
	if config.AuthKey == nil {
		return nil, fmt.Errorf("auth public key is required")
	}
	if config.EntityKey == nil {
		return nil, fmt.Errorf("entity key is required")
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultAuthTimeout
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.Dial == nil {
		dialer := &net.Dialer{}
		config.Dial = dialer.DialContext
	}

	return &AuthClient{config: config}, nil
}

// Address returns the Auth address.
func (c *AuthClient) Address() string {
	return c.config.Address
}

// ExchangeRequest describes one session key request.
type ExchangeRequest struct {
	// ID identifies the exchange in logs.
	ID string

	// ConnectionID is the client connection that triggered the exchange.
	ConnectionID string

	// ClientID is the requesting client's id.
	ClientID uint32

	// Identity carries the purpose already derived for ClientID.
	Identity handshake.Identity
}

// AuthResponse is the result of a successful exchange.
type AuthResponse struct {
	ExchangeID  string
	AuthID      uint32
	NonceEntity handshake.Nonce
	NonceAuth   handshake.Nonce

	// Payload is the AUTH_RESPONSE payload, passed on unparsed.
	Payload []byte

	// Duration is the time from dial to response.
	Duration time.Duration
}

// Exchange performs a complete exchange and closes the channel.
func (c *AuthClient) Exchange(ctx context.Context, req ExchangeRequest) (*AuthResponse, error) {
	ex, err := c.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	return ex.Run()
}

// Open dials the Auth and returns an exchange in PhaseAwaitAuthHello.
// The exchange's deadline comes from ctx, or from the configured timeout.
func (c *AuthClient) Open(ctx context.Context, req ExchangeRequest) (*Exchange, error) {
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
	}

	ex := &Exchange{
		client: c,
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		phase:  PhaseConnecting,
		start:  time.Now(),
	}
	ex.logState("", PhaseConnecting, "")

	conn, err := c.config.Dial(ctx, "tcp", c.config.Address)
	if err != nil {
		err = ex.fail(fmt.Errorf("%w: connect %s: %w", ErrTransport, c.config.Address, err))
		cancel()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock pending I/O when the context ends early.
	ex.stopWatch = context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	ex.conn = conn
	ex.framer = NewFramer(conn)
	ex.framer.SetMaxMessageSize(c.config.MaxMessageSize)
	if c.config.Logger != nil {
		ex.framer.SetLogger(c.config.Logger, req.ConnectionID, req.ID)
	}

	ex.setPhase(PhaseAwaitAuthHello, "")
	return ex, nil
}

// Exchange is one session on the Auth channel. It is driven by a single
// goroutine and is not safe for concurrent use.
type Exchange struct {
	client *AuthClient
	req    ExchangeRequest

	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func() bool
	conn      net.Conn
	framer    *Framer

	phase       Phase
	start       time.Time
	authID      uint32
	nonceAuth   handshake.Nonce
	nonceEntity handshake.Nonce

	closeOnce sync.Once
}

// Phase returns the current phase.
func (e *Exchange) Phase() Phase {
	return e.phase
}

// ID returns the exchange id.
func (e *Exchange) ID() string {
	return e.req.ID
}

// Run drives the exchange from PhaseAwaitAuthHello to a terminal phase.
func (e *Exchange) Run() (*AuthResponse, error) {
	if err := e.AwaitHello(); err != nil {
		return nil, err
	}
	if err := e.SendRequest(); err != nil {
		return nil, err
	}
	return e.AwaitResponse()
}

// AwaitHello reads frames until AUTH_HELLO arrives and records the Auth nonce.
// Frames of other types are skipped.
func (e *Exchange) AwaitHello() error {
	if e.phase != PhaseAwaitAuthHello {
		return e.phaseError("await AUTH_HELLO")
	}

	for {
		frame, err := e.framer.ReadFrame()
		if err != nil {
			if err == io.EOF || errors.Is(err, ErrFrameTruncated) {
				return e.fail(fmt.Errorf("%w: auth closed the channel before AUTH_HELLO", ErrTransport))
			}
			return e.fail(e.ioError(err))
		}

		if frame.Type != wire.MsgAuthHello {
			e.logMessage(frame, log.DirectionIn)
			continue
		}

		hello, err := wire.DecodeAuthHello(frame.Payload)
		if err != nil {
			return e.fail(err)
		}
		e.authID = hello.AuthID
		e.nonceAuth = hello.Nonce
		e.logMessage(frame, log.DirectionIn)
		e.setPhase(PhaseSendingRequest, "")
		return nil
	}
}

// SendRequest builds, encrypts, signs and sends SESSION_KEY_REQ with a fresh
// entity nonce. It is valid exactly once, after AwaitHello.
func (e *Exchange) SendRequest() error {
	if e.phase != PhaseSendingRequest {
		return e.phaseError("send SESSION_KEY_REQ")
	}

	nonce, err := handshake.NewNonce()
	if err != nil {
		return e.fail(err)
	}

	payload, err := handshake.BuildPayload(e.req.Identity, nonce, e.nonceAuth)
	if err != nil {
		return e.fail(err)
	}

	cfg := e.client.config
	signed, err := handshake.EncryptAndSign(payload, cfg.AuthKey, cfg.EntityKey)
	if err != nil {
		return e.fail(err)
	}

	e.nonceEntity = nonce
	if err := e.framer.WriteFrame(wire.MsgSessionKeyReq, signed.Bytes()); err != nil {
		return e.fail(e.ioError(err))
	}
	e.setPhase(PhaseAwaitAuthResponse, "")
	return nil
}

// AwaitResponse reads the Auth's answer. Anything other than AUTH_RESPONSE,
// including the channel closing, fails with ErrHandshakeRejected.
func (e *Exchange) AwaitResponse() (*AuthResponse, error) {
	if e.phase != PhaseAwaitAuthResponse {
		return nil, e.phaseError("await AUTH_RESPONSE")
	}

	frame, err := e.framer.ReadFrame()
	if err != nil {
		if err == io.EOF || errors.Is(err, ErrFrameTruncated) {
			return nil, e.fail(fmt.Errorf("%w: auth closed the channel", ErrHandshakeRejected))
		}
		return nil, e.fail(e.ioError(err))
	}
	e.logMessage(frame, log.DirectionIn)

	switch frame.Type {
	case wire.MsgAuthResponse:
		resp := &AuthResponse{
			ExchangeID:  e.req.ID,
			AuthID:      e.authID,
			NonceEntity: e.nonceEntity,
			NonceAuth:   e.nonceAuth,
			Payload:     frame.Payload,
			Duration:    time.Since(e.start),
		}
		e.setPhase(PhaseSucceeded, "")
		return resp, nil

	case wire.MsgAuthAlert:
		code, err := wire.DecodeAuthAlert(frame.Payload)
		if err != nil {
			return nil, e.fail(fmt.Errorf("%w: %w", ErrHandshakeRejected, err))
		}
		return nil, e.fail(&AlertError{Code: code})

	default:
		return nil, e.fail(fmt.Errorf("%w: unexpected %s", ErrHandshakeRejected, frame.Type))
	}
}

// Close releases the channel. An exchange closed before reaching a terminal
// phase is marked failed. Safe to call multiple times.
func (e *Exchange) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if !e.phase.Terminal() {
			e.setPhase(PhaseFailed, "abandoned")
		}
		if e.stopWatch != nil {
			e.stopWatch()
		}
		e.cancel()
		if e.conn != nil {
			err = e.conn.Close()
		}
	})
	return err
}

func (e *Exchange) fail(err error) error {
	if !e.phase.Terminal() {
		e.setPhase(PhaseFailed, err.Error())
	}
	if e.client.config.Logger != nil {
		e.client.config.Logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: e.req.ConnectionID,
			ExchangeID:   e.req.ID,
			Layer:        log.LayerHandshake,
			Category:     log.CategoryError,
			LocalRole:    log.RoleAuthClient,
			RemoteAddr:   e.client.config.Address,
			ClientID:     &e.req.ClientID,
			Error: &log.ErrorEventData{
				Layer:   log.LayerHandshake,
				Message: err.Error(),
				Context: e.phase.String(),
			},
		})
	}
	return err
}

func (e *Exchange) phaseError(op string) error {
	return fmt.Errorf("%w: cannot %s in %s", ErrInvalidPhase, op, e.phase)
}

// ioError maps a read/write failure, preferring the context's reason when the
// deadline or a cancellation caused it.
func (e *Exchange) ioError(err error) error {
	if ctxErr := e.ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrTransport, ctxErr)
	}
	if errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func (e *Exchange) setPhase(p Phase, reason string) {
	old := e.phase
	e.phase = p
	e.logState(old.String(), p, reason)
}

func (e *Exchange) logState(old string, p Phase, reason string) {
	logger := e.client.config.Logger
	if logger == nil {
		return
	}
	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: e.req.ConnectionID,
		ExchangeID:   e.req.ID,
		Layer:        log.LayerHandshake,
		Category:     log.CategoryState,
		LocalRole:    log.RoleAuthClient,
		RemoteAddr:   e.client.config.Address,
		ClientID:     &e.req.ClientID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityExchange,
			OldState: old,
			NewState: p.String(),
			Reason:   reason,
		},
	})
}

func (e *Exchange) logMessage(frame *wire.AuthFrame, dir log.Direction) {
	logger := e.client.config.Logger
	if logger == nil {
		return
	}

	msg := &log.MessageEvent{Type: frame.Type, PayloadSize: len(frame.Payload)}
	switch frame.Type {
	case wire.MsgAuthAlert:
		if code, err := wire.DecodeAuthAlert(frame.Payload); err == nil {
			msg.Alert = &code
		}
	case wire.MsgAuthResponse:
		elapsed := time.Since(e.start)
		msg.Duration = &elapsed
	}

	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: e.req.ConnectionID,
		ExchangeID:   e.req.ID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleAuthClient,
		ClientID:     &e.req.ClientID,
		Message:      msg,
	})
}
