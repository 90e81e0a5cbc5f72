package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JZwlth/iotauth/pkg/wire"
)

// DefaultConnectTimeout bounds Connect when ctx carries no deadline.
const DefaultConnectTimeout = 30 * time.Second

// ClientConfig tunes Client. Zero fields take defaults.
type ClientConfig struct {
	ConnectTimeout time.Duration

	// ReadSize caps what one Receive returns. The entity sends each reply
	// with a single write, so one read is one reply.
	ReadSize int
}

// Client dials the entity server on behalf of an application client, the
// same way a device on the network would.
type Client struct {
	config ClientConfig
}

// NewClient creates a client, filling zero config fields with defaults.
func NewClient(config ClientConfig) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.ReadSize <= 0 {
		config.ReadSize = DefaultReadSize
	}
	return &Client{config: config}
}

// Connect dials address over TCP.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, address, err)
	}
	return &ClientConn{nc: nc, buf: make([]byte, c.config.ReadSize)}, nil
}

// ClientConn is one client connection. Send and Receive may run
// concurrently with each other; each is serialized with itself.
type ClientConn struct {
	nc     net.Conn
	closed atomic.Bool

	sendMu sync.Mutex

	recvMu sync.Mutex
	buf    []byte
}

// LocalAddr returns the client's side of the connection.
func (c *ClientConn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// RemoteAddr returns the entity server's address.
func (c *ClientConn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Send encodes and writes frame.
func (c *ClientConn) Send(frame *wire.ClientFrame) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if _, err := c.nc.Write(wire.EncodeClientFrame(frame)); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// Receive returns what a single read yields. A timeout of zero waits
// forever; otherwise the net.Error timeout surfaces unchanged.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrTransport, err)
	}

	n, err := c.nc.Read(c.buf)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), c.buf[:n]...), nil
}

// Ping sends CLIENT_PING and returns the reply text.
func (c *ClientConn) Ping(timeout time.Duration) (string, error) {
	if err := c.Send(&wire.ClientFrame{Type: wire.MsgClientPing}); err != nil {
		return "", err
	}
	reply, err := c.Receive(timeout)
	return string(reply), err
}

// RequestSession sends CLIENT_SESSION_REQUEST for clientID. payload is
// passed through untouched.
func (c *ClientConn) RequestSession(clientID uint32, payload []byte) error {
	keyID, err := wire.KeyIDForClient(clientID)
	if err != nil {
		return err
	}
	return c.Send(&wire.ClientFrame{Type: wire.MsgClientSessionRequest, KeyID: keyID, Payload: payload})
}

// Close is idempotent; only the first call reports the socket's error.
func (c *ClientConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.nc.Close()
}
