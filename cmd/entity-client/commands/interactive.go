package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/JZwlth/iotauth/pkg/transport"
)

var errNotConnected = errors.New("not connected (use 'connect')")

// InteractiveCommand prompts for commands over one connection.
func InteractiveCommand() *cli.Command {
	return &cli.Command{
		Name:    "interactive",
		Aliases: []string{"i"},
		Usage:   "Prompt for commands",
		Action: func(c *cli.Context) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "entity> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				AutoComplete: readline.NewPrefixCompleter(
					readline.PcItem("connect"),
					readline.PcItem("ping"),
					readline.PcItem("request"),
					readline.PcItem("recv"),
					readline.PcItem("close"),
					readline.PcItem("help"),
					readline.PcItem("quit"),
				),
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			sh := NewShell(c.String("server"), c.Duration("timeout"))
			defer sh.Close()
			return sh.Run(c.Context, rl)
		},
	}
}

// Shell runs interactive commands against one server connection, opened on
// first use.
type Shell struct {
	server  string
	timeout time.Duration
	session *Session
}

// NewShell returns a Shell for server.
func NewShell(server string, timeout time.Duration) *Shell {
	return &Shell{server: server, timeout: timeout}
}

// Run reads commands from rl until quit, EOF or ctx ends.
func (sh *Shell) Run(ctx context.Context, rl *readline.Instance) error {
	out := rl.Stdout()
	sh.printHelp(out)

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			fmt.Fprintln(out, "Exiting...")
			return nil
		}

		quit, err := sh.Exec(ctx, line, out)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		if quit {
			fmt.Fprintln(out, "Exiting...")
			return nil
		}
	}
}

// Exec runs one command line. quit reports that the user asked to leave.
func (sh *Shell) Exec(ctx context.Context, line string, w io.Writer) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		sh.printHelp(w)
	case "connect", "c":
		if len(args) > 0 {
			sh.server = args[0]
		}
		return false, sh.connect(ctx, w)
	case "ping", "p":
		return false, sh.cmdPing(ctx, w)
	case "request", "r":
		return false, sh.cmdRequest(ctx, args, w)
	case "recv":
		return false, sh.cmdRecv(args, w)
	case "close":
		if err := sh.Close(); err != nil {
			return false, err
		}
		fmt.Fprintln(w, "closed")
	case "quit", "exit", "q":
		return true, nil
	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false, nil
}

// Close drops the connection, if any.
func (sh *Shell) Close() error {
	if sh.session == nil {
		return nil
	}
	err := sh.session.Close()
	sh.session = nil
	return err
}

func (sh *Shell) connect(ctx context.Context, w io.Writer) error {
	if err := sh.Close(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sh.timeout)
	defer cancel()
	conn, err := transport.NewClient(transport.ClientConfig{ConnectTimeout: sh.timeout}).Connect(ctx, sh.server)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", sh.server, err)
	}
	sh.session = &Session{Conn: conn, Timeout: sh.timeout}
	fmt.Fprintf(w, "connected to %s\n", conn.RemoteAddr())
	return nil
}

// ensure connects on first use.
func (sh *Shell) ensure(ctx context.Context, w io.Writer) error {
	if sh.session != nil {
		return nil
	}
	return sh.connect(ctx, w)
}

func (sh *Shell) cmdPing(ctx context.Context, w io.Writer) error {
	if err := sh.ensure(ctx, w); err != nil {
		return err
	}
	return sh.session.Ping(w)
}

// request <client-id> [hex-payload] [wait]
func (sh *Shell) cmdRequest(ctx context.Context, args []string, w io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: request <client-id> [hex-payload] [wait]")
	}
	clientID, err := parseClientID(args[0])
	if err != nil {
		return err
	}

	var payload []byte
	var wait time.Duration
	for _, arg := range args[1:] {
		if d, err := time.ParseDuration(arg); err == nil {
			wait = d
			continue
		}
		if payload, err = parsePayload(arg); err != nil {
			return err
		}
	}

	if err := sh.ensure(ctx, w); err != nil {
		return err
	}
	return sh.session.Request(w, clientID, payload, wait)
}

// recv [timeout]
func (sh *Shell) cmdRecv(args []string, w io.Writer) error {
	if sh.session == nil {
		return errNotConnected
	}
	timeout := sh.timeout
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		timeout = d
	}

	data, err := sh.session.Conn.Receive(timeout)
	if isTimeout(err) {
		fmt.Fprintf(w, "nothing within %s\n", timeout)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d bytes: %s (%q)\n", len(data), hex.EncodeToString(data), data)
	return nil
}

func (sh *Shell) printHelp(w io.Writer) {
	fmt.Fprintf(w, `
Entity Client Commands (server %s):
  connect [addr]                    - (Re)connect, optionally to another server
  ping                              - Send CLIENT_PING
  request <id> [hex-payload] [wait] - Send CLIENT_SESSION_REQUEST for client id
  recv [timeout]                    - Print the next bytes from the server
  close                             - Close the connection
  help                              - Show this help
  quit                              - Exit
`, sh.server)
}
