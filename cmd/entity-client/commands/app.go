// Package commands implements the entity-client CLI commands.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/JZwlth/iotauth/pkg/transport"
	"github.com/JZwlth/iotauth/pkg/version"
)

// DefaultServer is the server address used when --server is not given.
var DefaultServer = fmt.Sprintf("localhost:%d", transport.DefaultPort)

// App builds the entity-client application.
func App() *cli.App {
	return &cli.App{
		Name:    "entity-client",
		Usage:   "Exercise an entity server from the client side",
		Version: version.String("entity-client"),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "entity server address (host:port)",
				EnvVars: []string{"ENTITY_SERVER"},
				Value:   DefaultServer,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "connect and reply timeout",
				Value:   5 * time.Second,
			},
		},
		Commands: []*cli.Command{
			PingCommand(),
			RequestCommand(),
			InteractiveCommand(),
			DiscoverCommand(),
		},
	}
}

// connect opens a Session to the --server address.
func connect(c *cli.Context) (*Session, error) {
	timeout := c.Duration("timeout")
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	client := transport.NewClient(transport.ClientConfig{ConnectTimeout: timeout})
	conn, err := client.Connect(ctx, c.String("server"))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.String("server"), err)
	}
	return &Session{Conn: conn, Timeout: timeout}, nil
}
