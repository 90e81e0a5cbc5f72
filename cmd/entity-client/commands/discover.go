package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/JZwlth/iotauth/pkg/discovery"
)

// DiscoverCommand lists entity servers advertised over mDNS.
func DiscoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Find entity servers on the local network",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "for", Value: discovery.BrowseTimeout, Usage: "how long to browse"},
			&cli.StringFlag{Name: "interface", Usage: "network interface to browse on"},
		},
		Action: func(c *cli.Context) error {
			browser := discovery.NewMDNSBrowser(discovery.BrowserConfig{
				Interface: c.String("interface"),
				Timeout:   c.Duration("for"),
			})
			return runDiscover(c.Context, browser, c.App.Writer)
		},
	}
}

func runDiscover(ctx context.Context, b discovery.Browser, w io.Writer) error {
	found, err := b.FindAll(ctx)
	if errors.Is(err, discovery.ErrNotFound) {
		fmt.Fprintln(w, "no entity servers found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("browse: %w", err)
	}

	for _, svc := range found {
		printService(w, svc)
	}
	return nil
}

func printService(w io.Writer, svc *discovery.EntityService) {
	fmt.Fprintf(w, "%s (%s)\n", svc.Instance, svc.Name)
	fmt.Fprintf(w, "  Host: %s port %d\n", svc.Host, svc.Port)
	if len(svc.Addresses) > 0 {
		fmt.Fprintf(w, "  Addresses: %s\n", strings.Join(svc.Addresses, ", "))
	}
	if svc.AuthAddress != "" {
		fmt.Fprintf(w, "  Auth: %s\n", svc.AuthAddress)
	}
	if svc.NumberKey > 0 {
		fmt.Fprintf(w, "  Keys per session: %d\n", svc.NumberKey)
	}
}

