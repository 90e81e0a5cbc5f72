// Package mockauth provides an in-process Authentication Service that speaks
// the Auth side of the entity's wire contract. It is meant for tests.
package mockauth

import (
	"bufio"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/JZwlth/iotauth/pkg/handshake"
	"github.com/JZwlth/iotauth/pkg/wire"
)

// Mock Auth errors.
var (
	// ErrBadSignature is recorded when a request's signature does not verify.
	ErrBadSignature = errors.New("signature verification failed")

	// ErrNonceMismatch is recorded when a request echoes the wrong Auth nonce.
	ErrNonceMismatch = errors.New("auth nonce mismatch")

	// ErrUnexpectedMessage is recorded for frames other than SESSION_KEY_REQ.
	ErrUnexpectedMessage = errors.New("unexpected message")
)

// Request is a session key request as seen by the Auth.
type Request struct {
	// AuthNonce is the nonce this Auth sent in AUTH_HELLO.
	AuthNonce handshake.Nonce

	// Payload is the decrypted request. Nil if decryption failed.
	Payload *handshake.Payload

	// Err is the validation failure, if any.
	Err error

	// ReceivedAt is when the request arrived.
	ReceivedAt time.Time
}

// Reply is the Auth's answer to a request.
type Reply struct {
	// Type is the frame type to send.
	Type wire.MessageType

	// Payload is sent as the frame payload.
	Payload []byte

	// Close drops the connection without answering.
	Close bool
}

// Accept is a reply that accepts the request with payload.
func Accept(payload []byte) Reply {
	return Reply{Type: wire.MsgAuthResponse, Payload: payload}
}

// Alert is a reply that rejects the request with code.
func Alert(code wire.AlertCode) Reply {
	return Reply{Type: wire.MsgAuthAlert, Payload: []byte{byte(code)}}
}

// Config configures the mock Auth.
type Config struct {
	// AuthID is sent in AUTH_HELLO.
	AuthID uint32

	// PrivateKey decrypts requests.
	PrivateKey *rsa.PrivateKey

	// EntityKey verifies request signatures.
	EntityKey *rsa.PublicKey

	// Nonce returns the nonce for the next AUTH_HELLO. Random if nil.
	Nonce func() handshake.Nonce

	// ReadTimeout bounds the wait for a request (default: 5s).
	ReadTimeout time.Duration

	// BeforeHello lists raw frames written before AUTH_HELLO.
	BeforeHello [][]byte

	// HelloGate, when set, delays AUTH_HELLO until it is closed or receives.
	HelloGate <-chan struct{}

	// SkipHello closes the connection without sending AUTH_HELLO.
	SkipHello bool

	// Respond decides the answer to a valid request. Invalid requests are
	// answered with an alert. Nil accepts with an empty payload.
	Respond func(req *Request) Reply
}

// Server is a mock Authentication Service.
type Server struct {
	config   Config
	listener net.Listener

	mu       sync.Mutex
	requests []*Request
	accepted int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start creates a mock Auth listening on a random loopback port.
func Start(config Config) (*Server, error) {
	if config.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if config.EntityKey == nil {
		return nil, fmt.Errorf("entity key is required")
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Second
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{config: config, listener: listener}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listen address as host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the server and waits for all connections to finish.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// Requests returns the requests received so far.
func (s *Server) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// ConnectionCount returns the number of accepted connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	for _, raw := range s.config.BeforeHello {
		if _, err := conn.Write(raw); err != nil {
			return
		}
	}

	if s.config.HelloGate != nil {
		select {
		case <-s.config.HelloGate:
		case <-s.ctx.Done():
			return
		}
	}
	if s.config.SkipHello {
		return
	}

	nonce := s.nonce()
	hello := wire.EncodeAuthHello(&wire.AuthHello{AuthID: s.config.AuthID, Nonce: nonce})
	if err := writeFrame(conn, wire.MsgAuthHello, hello); err != nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	frame, err := readFrame(bufio.NewReader(conn))
	if err != nil {
		return
	}

	req := &Request{AuthNonce: nonce, ReceivedAt: time.Now()}
	s.validate(req, frame)

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	var reply Reply
	switch {
	case req.Err != nil:
		reply = Alert(wire.AlertUnknownInternalError)
	case s.config.Respond != nil:
		reply = s.config.Respond(req)
	default:
		reply = Accept(nil)
	}

	if reply.Close {
		return
	}
	_ = writeFrame(conn, reply.Type, reply.Payload)
}

// validate checks the request the way the Auth does: signature over the
// trailing bytes, then decryption, then the nonce echo.
func (s *Server) validate(req *Request, frame *wire.AuthFrame) {
	if frame.Type != wire.MsgSessionKeyReq {
		req.Err = fmt.Errorf("%w: %s", ErrUnexpectedMessage, frame.Type)
		return
	}

	signed, err := handshake.SplitSignedRequest(frame.Payload, s.config.EntityKey.Size())
	if err != nil {
		req.Err = err
		return
	}
	if err := handshake.VerifyRequest(signed, s.config.EntityKey); err != nil {
		req.Err = fmt.Errorf("%w: %w", ErrBadSignature, err)
		return
	}

	plain, err := handshake.DecryptRequest(signed, s.config.PrivateKey)
	if err != nil {
		req.Err = err
		return
	}

	payload, err := handshake.ParsePayload(plain)
	if err != nil {
		req.Err = err
		return
	}
	req.Payload = payload

	if payload.NonceAuth != req.AuthNonce {
		req.Err = ErrNonceMismatch
	}
}

func (s *Server) nonce() handshake.Nonce {
	if s.config.Nonce != nil {
		return s.config.Nonce()
	}
	n, err := handshake.NewNonce()
	if err != nil {
		panic(err)
	}
	return n
}

func writeFrame(w io.Writer, msgType wire.MessageType, payload []byte) error {
	frame, err := wire.EncodeAuthFrame(msgType, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func readFrame(r *bufio.Reader) (*wire.AuthFrame, error) {
	header := make([]byte, 0, 1+wire.MaxVarintLen)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		header = append(header, b)
		if len(header) < 2 {
			continue
		}
		length, _, err := wire.DecodeVarint(header, 1)
		if err == nil {
			payload := make([]byte, length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, err
			}
			return &wire.AuthFrame{Type: wire.MessageType(header[0]), Payload: payload}, nil
		}
		if len(header) == cap(header) {
			return nil, err
		}
	}
}
