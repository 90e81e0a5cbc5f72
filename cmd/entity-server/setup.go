package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JZwlth/iotauth/pkg/cert"
	"github.com/JZwlth/iotauth/pkg/config"
	"github.com/JZwlth/iotauth/pkg/discovery"
	"github.com/JZwlth/iotauth/pkg/handshake"
	"github.com/JZwlth/iotauth/pkg/log"
	"github.com/JZwlth/iotauth/pkg/metrics"
	"github.com/JZwlth/iotauth/pkg/service"
	"github.com/JZwlth/iotauth/pkg/transport"
)

// newLogger builds the operational logger from log.level and log.format.
func newLogger(cfg config.Log, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}

// capture is the protocol logger plus the file behind it, if any.
type capture struct {
	logger log.Logger
	file   *log.FileLogger
}

// openCapture forwards protocol events to slog at debug level, and to a CBOR
// capture file when log.protocol_file is set.
func openCapture(cfg config.Log, logger *slog.Logger) (capture, error) {
	multi := log.NewMultiLogger(log.NewSlogAdapter(logger.With("component", "protocol")))

	var c capture
	if cfg.ProtocolFile != "" {
		f, err := log.NewFileLogger(cfg.ProtocolFile)
		if err != nil {
			return c, err
		}
		multi.Add(f)
		c.file = f
		logger.Info("protocol capture enabled", "path", cfg.ProtocolFile)
	}
	c.logger = multi
	return c, nil
}

// entity holds the wired entity server.
type entity struct {
	service *service.EntityService
	metrics *metrics.Metrics
}

// newEntity loads the keys and wires the Auth client, metrics, discovery and
// the entity service from cfg.
func newEntity(cfg *config.Config, logger *slog.Logger, protocol log.Logger) (*entity, error) {
	authKey, err := cert.ReadAuthPublicKey(cfg.AuthInfo.PubKey.Path)
	if err != nil {
		return nil, fmt.Errorf("load auth public key: %w", err)
	}
	priv, err := cert.ReadPrivateKey(cfg.EntityInfo.PrivKey.Path)
	if err != nil {
		return nil, fmt.Errorf("load entity private key: %w", err)
	}

	// The public half is only read to check it belongs to the private key.
	pub := &priv.PublicKey
	if path := cfg.EntityInfo.PubKey.Path; path != "" {
		if pub, err = cert.ReadPublicKey(path); err != nil {
			return nil, fmt.Errorf("load entity public key: %w", err)
		}
		if !pub.Equal(&priv.PublicKey) {
			return nil, fmt.Errorf("%w: %s does not match the private key", handshake.ErrKeyIntegrity, path)
		}
	}
	key, err := handshake.NewEntityKey(priv, pub)
	if err != nil {
		return nil, err
	}

	auth, err := transport.NewAuthClient(transport.AuthClientConfig{
		Address:   cfg.AuthAddress(),
		AuthKey:   authKey,
		EntityKey: key,
		Timeout:   cfg.Auth.Timeout,
		Logger:    protocol,
	})
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	svcCfg := service.DefaultConfig()
	svcCfg.ListenAddress = cfg.ListenAddress()
	svcCfg.Identity = cfg.Identity()
	svcCfg.Auth = auth
	svcCfg.MaxPending = cfg.Entity.Server.MaxPending
	svcCfg.SessionRate = cfg.Entity.Server.SessionRate
	svcCfg.SessionBurst = cfg.Entity.Server.SessionBurst
	if cfg.Entity.Server.WriteTimeout > 0 {
		svcCfg.WriteTimeout = cfg.Entity.Server.WriteTimeout
	}
	svcCfg.Logger = logger
	svcCfg.ProtocolLogger = protocol
	svcCfg.Metrics = m
	// No OnExchangeFailure: the client protocol has no failure frame, so a
	// rejected exchange is logged and counted but the client gets no reply.

	if cfg.Discovery.Enabled {
		svcCfg.Advertiser = discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Discovery.Interface,
		})
		svcCfg.Advertisement = discovery.EntityInfo{
			Instance:    cfg.Discovery.Instance,
			AuthAddress: cfg.AuthAddress(),
		}
	}

	svc, err := service.NewEntityService(svcCfg)
	if err != nil {
		return nil, err
	}
	return &entity{service: svc, metrics: m}, nil
}
