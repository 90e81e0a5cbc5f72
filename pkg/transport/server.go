package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JZwlth/iotauth/pkg/log"
)

// Server defaults.
const (
	// DefaultPort is the entity server's default client-facing port.
	DefaultPort = 21900

	// DefaultReadSize is the size of one client read.
	DefaultReadSize = 4096

	// DefaultWriteTimeout bounds one socket write of a connection's writer.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultMaxOutput caps the output queued for one connection.
	DefaultMaxOutput = 16 * DefaultReadSize

	eventQueueSize = 64

	// writeChunk is the largest single socket write, so Pending shrinks
	// while a large reply drains.
	writeChunk = 32 << 10
)

// ConnHandler receives the events of one client connection. Every method is
// called from the server's event loop goroutine, one at a time.
type ConnHandler interface {
	// HandleData is called with the bytes of one read. A read never carries
	// more than one client frame.
	HandleData(data []byte)

	// HandleClose is called exactly once after the connection was
	// deregistered. err is nil for an orderly peer close.
	HandleClose(err error)
}

// ServerConfig configures the entity server.
type ServerConfig struct {
	// Address to listen on (e.g., ":21900" or "127.0.0.1:21900").
	Address string

	// ReadSize is the buffer size of one client read (default: 4096).
	ReadSize int

	// WriteTimeout bounds one socket write (default: 5s). A peer that
	// accepts nothing for that long is dropped.
	WriteTimeout time.Duration

	// MaxOutput caps the bytes queued for one connection (default: 64KiB).
	// A Send past the cap drops the connection with ErrOutputFull.
	MaxOutput int

	// Logger for protocol logging (optional).
	Logger log.Logger

	// NewHandler creates the handler of a newly accepted connection.
	NewHandler func(conn *ServerConn) ConnHandler

	// OnConnect is called when a new connection is registered.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a connection is deregistered.
	OnDisconnect func(conn *ServerConn)

	// OnError is called when an error occurs. conn is nil for accept errors.
	OnError func(conn *ServerConn, err error)
}

// Server is the client-facing reactor. One goroutine owns all connection
// and handler state; socket reads, accepts and background tasks feed it
// events through a channel. Socket writes run in a writer goroutine per
// connection so a peer that stops reading never blocks the loop.
type Server struct {
	config   ServerConfig
	listener net.Listener

	events chan func()

	// Owned by the event loop.
	conns map[*ServerConn]struct{}

	connCount atomic.Int32
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	wg        sync.WaitGroup
}

// NewServer creates a new entity server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.NewHandler == nil {
		return nil, fmt.Errorf("NewHandler is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.ReadSize == 0 {
		config.ReadSize = DefaultReadSize
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.MaxOutput == 0 {
		config.MaxOutput = DefaultMaxOutput
	}

	return &Server{
		config: config,
		events: make(chan func(), eventQueueSize),
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start binds the listener and starts the event loop. A bind failure is
// returned to the caller.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", ErrTransport, s.config.Address, err)
	}
	s.listener = listener

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})
	s.running.Store(true)

	s.wg.Add(2)
	go s.loop()
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every connection, waits for the event loop,
// readers and background tasks, and returns.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	return nil
}

// Done is closed when the event loop has exited.
func (s *Server) Done() <-chan struct{} {
	return s.loopDone
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int {
	return int(s.connCount.Load())
}

// post queues fn for the event loop. It reports false once the server is
// shutting down.
func (s *Server) post(fn func()) bool {
	// Checked first: after Stop both select cases are ready and the send
	// could win.
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// loop is the only goroutine that touches connection state.
func (s *Server) loop() {
	defer s.wg.Done()
	defer close(s.loopDone)

	for {
		select {
		case <-s.ctx.Done():
			for conn := range s.conns {
				s.deregister(conn, ErrServerClosed)
			}
			return

		case fn := <-s.events:
			fn()
		}
	}
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(nil, fmt.Errorf("%w: accept: %w", ErrTransport, err))
			continue
		}

		if !s.post(func() { s.register(conn) }) {
			conn.Close()
			return
		}
	}
}

// register runs on the event loop.
func (s *Server) register(conn net.Conn) {
	sconn := &ServerConn{
		conn:       conn,
		server:     s,
		connID:     uuid.New().String(),
		remoteAddr: conn.RemoteAddr(),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	s.conns[sconn] = struct{}{}
	s.connCount.Add(1)
	sconn.logState("", "CONNECTED", "")

	sconn.handler = s.config.NewHandler(sconn)

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	s.wg.Add(2)
	go sconn.readLoop()
	go sconn.writeLoop()
}

// deregister runs on the event loop. The first call wins; later calls for
// the same connection are no-ops.
func (s *Server) deregister(c *ServerConn, reason error) {
	if c.closed {
		return
	}
	c.closed = true

	close(c.done)
	c.conn.Close()
	delete(s.conns, c)
	s.connCount.Add(-1)

	reasonText := ""
	if reason != nil {
		reasonText = reason.Error()
	}
	c.logState("CONNECTED", "DISCONNECTED", reasonText)

	if c.handler != nil {
		c.handler.HandleClose(reason)
	}
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(c)
	}
}

func (s *Server) reportError(conn *ServerConn, err error) {
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}

// ServerConn is one accepted client connection. Methods documented as
// loop-only must be called from a ConnHandler method or a function passed to
// Post.
type ServerConn struct {
	conn       net.Conn
	server     *Server
	handler    ConnHandler
	connID     string
	remoteAddr net.Addr

	// Output waiting for the writer. pending counts it plus the bytes the
	// writer holds but has not written yet.
	outMu   sync.Mutex
	outbuf  []byte
	pending atomic.Int64
	wake    chan struct{}
	done    chan struct{}

	// Owned by the event loop.
	closed bool
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// Send queues data for the connection's writer and returns without
// waiting for the socket. Output past MaxOutput drops the connection.
// Loop-only.
func (c *ServerConn) Send(data []byte) error {
	if c.closed {
		return ErrConnectionClosed
	}
	if c.pending.Load()+int64(len(data)) > int64(c.server.config.MaxOutput) {
		err := fmt.Errorf("%w: %w (%d bytes queued)", ErrTransport, ErrOutputFull, c.pending.Load())
		c.server.reportError(c, err)
		c.server.deregister(c, err)
		return err
	}

	c.logFrame(data, log.DirectionOut)
	c.outMu.Lock()
	c.outbuf = append(c.outbuf, data...)
	c.outMu.Unlock()
	c.pending.Add(int64(len(data)))

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued bytes not yet written.
func (c *ServerConn) Pending() int {
	return int(c.pending.Load())
}

// Close deregisters and closes the connection. Loop-only.
func (c *ServerConn) Close() error {
	c.server.deregister(c, nil)
	return nil
}

// Closed reports whether the connection was deregistered. Loop-only.
func (c *ServerConn) Closed() bool {
	return c.closed
}

// Post runs fn on the event loop unless the connection is closed by then.
// Safe to call from any goroutine except the event loop itself. It reports
// false if the server is shutting down.
func (c *ServerConn) Post(fn func()) bool {
	return c.server.post(func() {
		if !c.closed {
			fn()
		}
	})
}

// Go runs fn in a new goroutine tracked by the server. The context is
// cancelled when the server stops; the task outlives its connection
// otherwise. Loop-only.
func (c *ServerConn) Go(fn func(ctx context.Context)) {
	c.server.wg.Add(1)
	go func() {
		defer c.server.wg.Done()
		fn(c.server.ctx)
	}()
}

// writeLoop drains queued output until the connection is deregistered.
// It never touches loop-owned state; a failed write is reported through
// the event loop.
func (c *ServerConn) writeLoop() {
	defer c.server.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		c.outMu.Lock()
		out := c.outbuf
		c.outbuf = nil
		c.outMu.Unlock()

		for len(out) > 0 {
			chunk := out[:min(len(out), writeChunk)]
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			n, err := c.conn.Write(chunk)
			c.pending.Add(-int64(n))
			out = out[n:]
			if err != nil {
				c.Post(func() { c.writeFailed(err) })
				return
			}
		}
	}
}

// writeFailed runs on the event loop.
func (c *ServerConn) writeFailed(err error) {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		err = fmt.Errorf("%w: write stalled for %s", ErrTransport, c.server.config.WriteTimeout)
	} else {
		err = fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	c.server.reportError(c, err)
	c.server.deregister(c, err)
}

// readLoop feeds reads to the event loop until the peer closes or the
// connection fails.
func (c *ServerConn) readLoop() {
	defer c.server.wg.Done()

	buf := make([]byte, c.server.config.ReadSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !c.Post(func() { c.dispatch(data) }) {
				return
			}
		}
		if err != nil {
			c.server.post(func() { c.readFailed(err) })
			return
		}
		// n == 0 with no error is not a close; keep reading.
	}
}

func (c *ServerConn) dispatch(data []byte) {
	c.logFrame(data, log.DirectionIn)
	c.handler.HandleData(data)
}

// readFailed runs on the event loop.
func (c *ServerConn) readFailed(err error) {
	if c.closed {
		return
	}
	if isEOF(err) {
		c.server.deregister(c, nil)
		return
	}
	err = fmt.Errorf("%w: read: %w", ErrTransport, err)
	c.server.reportError(c, err)
	c.server.deregister(c, err)
}

func (c *ServerConn) logFrame(data []byte, dir log.Direction) {
	logger := c.server.config.Logger
	if logger == nil {
		return
	}
	frame, truncated := log.FrameData(data, MaxLogFrameDataSize)
	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleEntityServer,
		RemoteAddr:   c.remoteAddr.String(),
		Frame: &log.FrameEvent{
			Size:      len(data),
			Data:      frame,
			Truncated: truncated,
		},
	})
}

func (c *ServerConn) logState(old, state, reason string) {
	logger := c.server.config.Logger
	if logger == nil {
		return
	}
	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RoleEntityServer,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old,
			NewState: state,
			Reason:   reason,
		},
	})
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
