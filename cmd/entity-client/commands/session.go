package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/JZwlth/iotauth/pkg/transport"
)

// Session is one open connection to an entity server.
type Session struct {
	Conn    *transport.ClientConn
	Timeout time.Duration
}

// Ping sends CLIENT_PING and prints the reply and the round trip time.
func (s *Session) Ping(w io.Writer) error {
	start := time.Now()
	reply, err := s.Conn.Ping(s.Timeout)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Fprintf(w, "%s from %s in %s\n", reply, s.Conn.RemoteAddr(), time.Since(start).Round(time.Microsecond))
	return nil
}

// Request sends CLIENT_SESSION_REQUEST for clientID. With wait > 0 it then
// prints whatever the server sends back within wait.
func (s *Session) Request(w io.Writer, clientID uint32, payload []byte, wait time.Duration) error {
	if err := s.Conn.RequestSession(clientID, payload); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	fmt.Fprintf(w, "session request sent for client %d\n", clientID)
	if wait <= 0 {
		return nil
	}

	reply, err := s.Conn.Receive(wait)
	switch {
	case isTimeout(err):
		fmt.Fprintf(w, "no reply within %s\n", wait)
		return nil
	case err != nil:
		return fmt.Errorf("await reply: %w", err)
	}
	fmt.Fprintf(w, "reply (%d bytes): %s\n", len(reply), hex.EncodeToString(reply))
	return nil
}

// Close closes the connection.
func (s *Session) Close() error {
	return s.Conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

// parsePayload decodes a hex payload; an empty string is no payload.
func parsePayload(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("payload must be hex: %w", err)
	}
	return b, nil
}
