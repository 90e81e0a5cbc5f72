// Command entity-server runs an entity: it accepts client connections and
// obtains session keys for them from the Authentication Service.
//
// Usage:
//
//	entity-server -config <file>
//
// The configuration file is either the flat key=value format or YAML
// (.yaml/.yml); ENTITY_* environment variables override it. See package
// config for the recognized keys.
//
// Examples:
//
//	# Run the net1 client entity
//	entity-server -config configs/net1/client.config
//
//	# Same, with a protocol capture and debug logging
//	ENTITY_LOG_LEVEL=debug ENTITY_LOG_PROTOCOL_FILE=net1.elog \
//	    entity-server -config configs/net1/client.config
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/JZwlth/iotauth/internal/shutdown"
	"github.com/JZwlth/iotauth/pkg/config"
	"github.com/JZwlth/iotauth/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("entity-server"))
		return nil
	}
	if *configFile == "" {
		return errors.New("-config is required")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("starting entity-server",
		"version", version.Build,
		"config", *configFile,
		"entity", cfg.EntityInfo.Name)

	shutdownHandler := shutdown.NewHandler(shutdownTimeout)

	capture, err := openCapture(cfg.Log, logger)
	if err != nil {
		return fmt.Errorf("open protocol capture: %w", err)
	}
	if capture.file != nil {
		shutdownHandler.OnShutdown(func(context.Context) error {
			logger.Info("closing protocol capture", "path", cfg.Log.ProtocolFile)
			return capture.file.Close()
		})
	}

	entity, err := newEntity(cfg, logger, capture.logger)
	if err != nil {
		return err
	}

	if cfg.Metrics.Address != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           entity.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			logger.Info("shutting down metrics server")
			return metricsServer.Shutdown(ctx)
		})
		go func() {
			logger.Info("metrics server listening", "addr", cfg.Metrics.Address)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := entity.service.Start(ctx); err != nil {
		return fmt.Errorf("start entity server: %w", err)
	}
	shutdownHandler.OnShutdown(func(context.Context) error {
		logger.Info("stopping entity server")
		return entity.service.Stop()
	})

	// A server that dies on its own still runs the hooks.
	go func() {
		select {
		case <-entity.service.Done():
			shutdownHandler.Trigger()
		case <-shutdownHandler.Done():
		}
	}()

	logger.Info("entity server started, press Ctrl+C to stop", "addr", entity.service.Addr())
	if err := shutdownHandler.Wait(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("entity server stopped")
	return nil
}
