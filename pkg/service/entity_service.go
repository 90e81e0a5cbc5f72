package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/JZwlth/iotauth/pkg/transport"
)

// EntityService accepts application clients and obtains session keys for
// them from the Authentication Service.
type EntityService struct {
	mu sync.RWMutex

	config Config
	logger *slog.Logger
	state  ServiceState

	server *transport.Server

	handlersMu    sync.RWMutex
	eventHandlers []EventHandler
}

// NewEntityService creates a new entity service.
func NewEntityService(config Config) (*EntityService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MaxPending == 0 {
		config.MaxPending = DefaultMaxPending
	}
	if config.ListenAddress == "" {
		config.ListenAddress = fmt.Sprintf(":%d", transport.DefaultPort)
	}
	if config.NewExchangeID == nil {
		config.NewExchangeID = func() string { return ulid.Make().String() }
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &EntityService{
		config: config,
		logger: logger,
		state:  StateIdle,
	}, nil
}

// Start binds the client-facing listener, starts the reactor and, if
// configured, advertises the service. Failing to bind is returned.
func (s *EntityService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrAlreadyStarted
	}

	server, err := transport.NewServer(transport.ServerConfig{
		Address:      s.config.ListenAddress,
		ReadSize:     s.config.ReadSize,
		WriteTimeout: s.config.WriteTimeout,
		MaxOutput:    s.config.MaxPending * s.config.ReadSize,
		Logger:       s.config.ProtocolLogger,
		NewHandler: func(conn *transport.ServerConn) transport.ConnHandler {
			return newConnHandler(s, conn)
		},
		OnConnect:    s.handleConnect,
		OnDisconnect: s.handleDisconnect,
		OnError:      s.handleError,
	})
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	s.server = server
	s.state = StateRunning

	s.logger.Info("entity server listening",
		"address", server.Addr().String(),
		"entity", s.config.Identity.Name,
		"auth", authAddress(s.config.Auth))

	if s.config.Advertiser != nil {
		s.advertise(ctx, server.Addr())
	}
	return nil
}

// advertise announces the service. Failures are logged; clients that know
// the address keep working without it.
func (s *EntityService) advertise(ctx context.Context, addr net.Addr) {
	info := s.config.Advertisement
	if info.Name == "" {
		info.Name = s.config.Identity.Name
	}
	if info.NumberKey == 0 {
		info.NumberKey = s.config.Identity.NumberKey
	}
	if tcp, ok := addr.(*net.TCPAddr); ok && info.Port == 0 {
		info.Port = uint16(tcp.Port)
	}

	if err := s.config.Advertiser.Advertise(ctx, &info); err != nil {
		s.logger.Warn("mDNS advertisement failed", "error", err)
		return
	}
	s.logger.Info("advertising entity server", "instance", info.Instance, "port", info.Port)
}

// Stop withdraws the advertisement, closes every client connection and
// waits for in-flight exchanges to end.
func (s *EntityService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return ErrNotStarted
	}

	if s.config.Advertiser != nil {
		if err := s.config.Advertiser.Stop(); err != nil {
			s.logger.Warn("stopping advertisement", "error", err)
		}
	}
	err := s.server.Stop()
	s.state = StateStopped

	s.logger.Info("entity server stopped")
	return err
}

// Done is closed once the reactor has exited. It is nil before Start.
func (s *EntityService) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.server == nil {
		return nil
	}
	return s.server.Done()
}

// Addr returns the listen address, or nil before Start.
func (s *EntityService) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// State returns the service state.
func (s *EntityService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ConnectionCount returns the number of connected clients.
func (s *EntityService) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.server == nil {
		return 0
	}
	return s.server.ConnectionCount()
}

// OnEvent registers a handler for service events.
func (s *EntityService) OnEvent(handler EventHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

func (s *EntityService) emit(event Event) {
	s.handlersMu.RLock()
	handlers := s.eventHandlers
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (s *EntityService) handleConnect(conn *transport.ServerConn) {
	s.config.Metrics.ConnectionOpened()
	s.logger.Debug("client connected", "conn", conn.ConnID(), "remote", conn.RemoteAddr().String())
	s.emit(Event{Type: EventConnected, ConnectionID: conn.ConnID()})
}

func (s *EntityService) handleDisconnect(conn *transport.ServerConn) {
	s.config.Metrics.ConnectionClosed()
	s.logger.Debug("client disconnected", "conn", conn.ConnID())
	s.emit(Event{Type: EventDisconnected, ConnectionID: conn.ConnID()})
}

func (s *EntityService) handleError(conn *transport.ServerConn, err error) {
	if conn == nil {
		s.logger.Warn("accept failed", "error", err)
		return
	}
	s.logger.Debug("client connection error", "conn", conn.ConnID(), "error", err)
}

func authAddress(auth transport.AuthExchanger) string {
	if a, ok := auth.(interface{ Address() string }); ok {
		return a.Address()
	}
	return ""
}
