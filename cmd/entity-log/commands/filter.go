package commands

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/JZwlth/iotauth/pkg/log"
)

// FilterCommand copies matching events into a new capture file.
func FilterCommand() *cli.Command {
	flags := append(selectionFlags(),
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file", Required: true},
		&cli.StringFlag{Name: "time-start", Usage: "keep events at or after this RFC3339 time"},
		&cli.StringFlag{Name: "time-end", Usage: "keep events before this RFC3339 time"},
	)
	return &cli.Command{
		Name:      "filter",
		Usage:     "Filter a capture file into a new one",
		ArgsUsage: "<file.elog>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			path, err := logPath(c)
			if err != nil {
				return err
			}
			sel := selectionFrom(c)
			sel.TimeStart = c.String("time-start")
			sel.TimeEnd = c.String("time-end")

			n, err := RunFilter(path, c.String("output"), sel)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Filtered %d events to %s\n", n, c.String("output"))
			return nil
		},
	}
}

// RunFilter writes the events of path selected by sel to output and returns
// how many were written.
func RunFilter(path, output string, sel Selection) (int, error) {
	filter, err := sel.Filter()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	out, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		out.Log(event)
		count++
	}

	if err := out.Close(); err != nil {
		return count, fmt.Errorf("failed to write output file: %w", err)
	}
	if _, failed := out.Stats(); failed > 0 {
		return count, fmt.Errorf("%d events could not be encoded", failed)
	}
	return count, nil
}
