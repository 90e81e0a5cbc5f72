package mockauth_test

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/JZwlth/iotauth/internal/testharness/mockauth"
	"github.com/JZwlth/iotauth/pkg/handshake"
	"github.com/JZwlth/iotauth/pkg/transport"
	"github.com/JZwlth/iotauth/pkg/wire"
)

func start(t *testing.T, cfg mockauth.Config) *mockauth.Server {
	t.Helper()

	authPriv, entityPriv, _, err := mockauth.TestKeys()
	if err != nil {
		t.Fatalf("TestKeys failed: %v", err)
	}
	cfg.PrivateKey = authPriv
	cfg.EntityKey = &entityPriv.PublicKey

	s, err := mockauth.Start(cfg)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartRequiresKeys(t *testing.T) {
	if _, err := mockauth.Start(mockauth.Config{}); err == nil {
		t.Error("expected error without keys")
	}
}

func TestSendsHello(t *testing.T) {
	nonce := handshake.Nonce{8, 7, 6, 5, 4, 3, 2, 1}
	s := start(t, mockauth.Config{
		AuthID: 42,
		Nonce:  func() handshake.Nonce { return nonce },
	})

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := transport.NewFrameReader(conn).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Type != wire.MsgAuthHello {
		t.Fatalf("Type = %v, want AUTH_HELLO", frame.Type)
	}

	hello, err := wire.DecodeAuthHello(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeAuthHello failed: %v", err)
	}
	if hello.AuthID != 42 {
		t.Errorf("AuthID = %d, want 42", hello.AuthID)
	}
	if hello.Nonce != nonce {
		t.Errorf("Nonce = %x, want %x", hello.Nonce, nonce)
	}
	if s.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount = %d, want 1", s.ConnectionCount())
	}
}

// A request that fails validation is recorded and answered with an alert.
func TestRejectsUnsignedRequest(t *testing.T) {
	s := start(t, mockauth.Config{})

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	framer := transport.NewFramer(conn)
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatalf("reading hello: %v", err)
	}
	if err := framer.WriteFrame(wire.MsgSessionKeyReq, make([]byte, 512)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	frame, err := framer.ReadFrame()
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	if frame.Type != wire.MsgAuthAlert {
		t.Fatalf("Type = %v, want AUTH_ALERT", frame.Type)
	}

	reqs := s.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if !errors.Is(reqs[0].Err, mockauth.ErrBadSignature) {
		t.Errorf("Err = %v, want ErrBadSignature", reqs[0].Err)
	}
	if reqs[0].Payload != nil {
		t.Error("Payload should be nil for an unverified request")
	}
}

func TestRejectsUnexpectedMessage(t *testing.T) {
	s := start(t, mockauth.Config{})

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	framer := transport.NewFrameReader(r)
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatalf("reading hello: %v", err)
	}
	if err := transport.NewFrameWriter(conn).WriteFrame(wire.MsgAuthResponse, nil); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatalf("reading reply: %v", err)
	}

	reqs := s.Requests()
	if len(reqs) != 1 || !errors.Is(reqs[0].Err, mockauth.ErrUnexpectedMessage) {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestCloseWaitsForConnections(t *testing.T) {
	gate := make(chan struct{})
	s := start(t, mockauth.Config{HelloGate: gate})

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a gated connection")
	}
}
