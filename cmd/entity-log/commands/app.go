// Package commands implements the entity-log CLI commands.
package commands

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/JZwlth/iotauth/pkg/version"
)

var errNoFile = errors.New("log file path required")

// App builds the entity-log application.
func App() *cli.App {
	return &cli.App{
		Name:    "entity-log",
		Usage:   "Inspect entity protocol capture files",
		Version: version.String("entity-log"),
		Commands: []*cli.Command{
			ViewCommand(),
			StatsCommand(),
			FilterCommand(),
			ExportCommand(),
		},
	}
}

func logPath(c *cli.Context) (string, error) {
	if c.NArg() < 1 {
		return "", errNoFile
	}
	return c.Args().First(), nil
}

func selectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "layer", Usage: "transport, wire, service or handshake"},
		&cli.StringFlag{Name: "direction", Usage: "in or out"},
		&cli.StringFlag{Name: "category", Usage: "message, state or error"},
		&cli.StringFlag{Name: "conn-id", Usage: "connection ID"},
		&cli.StringFlag{Name: "exchange", Usage: "Auth exchange ID"},
		&cli.StringFlag{Name: "client-id", Usage: "client id of a session request"},
		&cli.StringFlag{Name: "type", Usage: "frame type name or number"},
	}
}

func selectionFrom(c *cli.Context) Selection {
	return Selection{
		Layer:      c.String("layer"),
		Direction:  c.String("direction"),
		Category:   c.String("category"),
		ConnID:     c.String("conn-id"),
		ExchangeID: c.String("exchange"),
		ClientID:   c.String("client-id"),
		Type:       c.String("type"),
	}
}
