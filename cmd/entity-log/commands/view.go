package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/JZwlth/iotauth/pkg/log"
)

// ViewCommand prints events in human-readable form.
func ViewCommand() *cli.Command {
	return &cli.Command{
		Name:      "view",
		Usage:     "View a capture file in human-readable form",
		ArgsUsage: "<file.elog>",
		Flags:     selectionFlags(),
		Action: func(c *cli.Context) error {
			path, err := logPath(c)
			if err != nil {
				return err
			}
			filter, err := selectionFrom(c).Filter()
			if err != nil {
				return err
			}
			return RunView(path, filter, c.App.Writer)
		},
	}
}

// RunView writes every event in path that matches filter to w.
func RunView(path string, filter log.Filter, w io.Writer) error {
	return eachEvent(path, filter, func(e log.Event) error {
		formatEvent(w, e)
		return nil
	})
}

// eachEvent streams the matching events of path to fn.
func eachEvent(path string, filter log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return nil
}

// formatEvent writes one event: a header line, indented details and a blank
// separator line.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s", ts, shortenID(event.ConnectionID),
		event.Direction, event.Layer, eventLabel(event))
	if event.ExchangeID != "" {
		fmt.Fprintf(w, " [ex:%s]", shortenID(event.ExchangeID))
	}
	fmt.Fprintln(w)

	if event.ClientID != nil {
		fmt.Fprintf(w, "  Client: %d\n", *event.ClientID)
	}
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Peer: %s (%s)\n", event.RemoteAddr, event.LocalRole)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

func eventLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenID keeps the first 8 characters of a connection or exchange ID.
func shortenID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  Payload: %d bytes\n", msg.PayloadSize)
	if msg.Purpose != "" {
		fmt.Fprintf(w, "  Purpose: %s\n", msg.Purpose)
	}
	if msg.Alert != nil {
		fmt.Fprintf(w, "  Alert: %s (%d)\n", msg.Alert, uint8(*msg.Alert))
	}
	if msg.Duration != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*msg.Duration))
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	default:
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
}
