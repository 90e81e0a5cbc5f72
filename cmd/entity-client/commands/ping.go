package commands

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/JZwlth/iotauth/pkg/wire"
)

// PingCommand checks the server answers CLIENT_PING.
func PingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Send CLIENT_PING and print the reply",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"c"}, Value: 1, Usage: "pings to send"},
		},
		Action: func(c *cli.Context) error {
			s, err := connect(c)
			if err != nil {
				return err
			}
			defer s.Close()

			for i := 0; i < c.Int("count"); i++ {
				if err := s.Ping(c.App.Writer); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// RequestCommand asks the server for a session key on behalf of a client.
func RequestCommand() *cli.Command {
	return &cli.Command{
		Name:  "request",
		Usage: "Send CLIENT_SESSION_REQUEST for a client id",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "client-id", Aliases: []string{"i"}, Required: true, Usage: "24-bit client id"},
			&cli.StringFlag{Name: "payload", Aliases: []string{"p"}, Usage: "hex payload after the key id"},
			&cli.DurationFlag{Name: "wait", Aliases: []string{"w"}, Usage: "how long to wait for a reply (0: don't)"},
		},
		Action: func(c *cli.Context) error {
			clientID, err := parseClientID(c.String("client-id"))
			if err != nil {
				return err
			}
			payload, err := parsePayload(c.String("payload"))
			if err != nil {
				return err
			}

			s, err := connect(c)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Request(c.App.Writer, clientID, payload, c.Duration("wait"))
		},
	}
}

func parseClientID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid client id %q: %w", s, err)
	}
	if _, err := wire.KeyIDForClient(uint32(id)); err != nil {
		return 0, fmt.Errorf("invalid client id %q: %w", s, err)
	}
	return uint32(id), nil
}
