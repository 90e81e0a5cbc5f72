package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/JZwlth/iotauth/pkg/log"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatYAML  = "yaml"
	FormatCSV   = "csv"
)

// Record is the exported form of an event: enums as names, times as text.
type Record struct {
	Timestamp    string  `json:"timestamp" yaml:"timestamp"`
	ConnectionID string  `json:"connection_id" yaml:"connection_id"`
	Direction    string  `json:"direction" yaml:"direction"`
	Layer        string  `json:"layer" yaml:"layer"`
	Category     string  `json:"category" yaml:"category"`
	Role         string  `json:"role,omitempty" yaml:"role,omitempty"`
	RemoteAddr   string  `json:"remote_addr,omitempty" yaml:"remote_addr,omitempty"`
	ExchangeID   string  `json:"exchange_id,omitempty" yaml:"exchange_id,omitempty"`
	ClientID     *uint32 `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Type         string  `json:"type" yaml:"type"`

	Size        int    `json:"size,omitempty" yaml:"size,omitempty"`
	Data        string `json:"data,omitempty" yaml:"data,omitempty"`
	Purpose     string `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Alert       string `json:"alert,omitempty" yaml:"alert,omitempty"`
	Duration    string `json:"duration,omitempty" yaml:"duration,omitempty"`
	State       string `json:"state,omitempty" yaml:"state,omitempty"`
	PrevState   string `json:"prev_state,omitempty" yaml:"prev_state,omitempty"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorDuring string `json:"error_during,omitempty" yaml:"error_during,omitempty"`
}

// NewRecord flattens event for export.
func NewRecord(event log.Event) Record {
	r := Record{
		Timestamp:    event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		ConnectionID: event.ConnectionID,
		Direction:    event.Direction.String(),
		Layer:        event.Layer.String(),
		Category:     event.Category.String(),
		RemoteAddr:   event.RemoteAddr,
		ExchangeID:   event.ExchangeID,
		ClientID:     event.ClientID,
		Type:         eventLabel(event),
	}
	if event.RemoteAddr != "" {
		r.Role = event.LocalRole.String()
	}

	switch {
	case event.Frame != nil:
		r.Size = event.Frame.Size
		r.Data = fmt.Sprintf("%x", event.Frame.Data)
	case event.Message != nil:
		m := event.Message
		r.Size = m.PayloadSize
		r.Purpose = m.Purpose
		if m.Alert != nil {
			r.Alert = m.Alert.String()
		}
		if m.Duration != nil {
			r.Duration = m.Duration.String()
		}
	case event.StateChange != nil:
		r.State = event.StateChange.NewState
		r.PrevState = event.StateChange.OldState
		r.Reason = event.StateChange.Reason
	case event.Error != nil:
		r.Error = event.Error.Message
		r.ErrorDuring = event.Error.Context
	}
	return r
}

// ExportCommand converts a capture file to a text format.
func ExportCommand() *cli.Command {
	flags := append(selectionFlags(),
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: FormatJSONL, Usage: "jsonl, yaml or csv"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file (default: stdout)"},
	)
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a capture file to JSONL, YAML or CSV",
		ArgsUsage: "<file.elog>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			path, err := logPath(c)
			if err != nil {
				return err
			}
			filter, err := selectionFrom(c).Filter()
			if err != nil {
				return err
			}

			w := c.App.Writer
			if out := c.String("output"); out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return RunExport(path, c.String("format"), filter, w)
		},
	}
}

// RunExport writes the events of path matching filter to w in format.
func RunExport(path, format string, filter log.Filter, w io.Writer) error {
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		return eachEvent(path, filter, func(e log.Event) error {
			return encodeRecord(enc.Encode, e)
		})
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := eachEvent(path, filter, func(e log.Event) error {
			return encodeRecord(enc.Encode, e)
		}); err != nil {
			return err
		}
		return enc.Close()
	case FormatCSV:
		return exportCSV(path, filter, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, yaml, csv)", format)
	}
}

func encodeRecord(encode func(any) error, e log.Event) error {
	if err := encode(NewRecord(e)); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category",
	"exchange_id", "client_id", "type", "size", "alert",
}

func exportCSV(path string, filter log.Filter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := eachEvent(path, filter, func(e log.Event) error {
		r := NewRecord(e)
		client := ""
		if r.ClientID != nil {
			client = strconv.FormatUint(uint64(*r.ClientID), 10)
		}
		size := ""
		if r.Size > 0 {
			size = strconv.Itoa(r.Size)
		}
		row := []string{
			r.Timestamp, r.ConnectionID, r.Direction, r.Layer, r.Category,
			r.ExchangeID, client, r.Type, size, r.Alert,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
