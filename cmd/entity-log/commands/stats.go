package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/JZwlth/iotauth/pkg/log"
	"github.com/JZwlth/iotauth/pkg/wire"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	MessagesByType    map[wire.MessageType]int
	Connections       map[string]*ConnectionStats
	Exchanges         map[string]*ExchangeStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for one client connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Clients   map[uint32]bool
}

// ExchangeStats holds what the capture shows about one Auth exchange.
type ExchangeStats struct {
	ClientID *uint32
	Alert    *wire.AlertCode
	Duration *time.Duration
}

// StatsCommand prints aggregate statistics.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show statistics about a capture file",
		ArgsUsage: "<file.elog>",
		Action: func(c *cli.Context) error {
			path, err := logPath(c)
			if err != nil {
				return err
			}
			return RunStats(path, c.App.Writer)
		},
	}
}

// RunStats analyzes path and prints the result to w.
func RunStats(path string, w io.Writer) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func collectStats(path string) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		MessagesByType:    make(map[wire.MessageType]int),
		Connections:       make(map[string]*ConnectionStats),
		Exchanges:         make(map[string]*ExchangeStats),
	}

	err := eachEvent(path, log.Filter{}, func(event log.Event) error {
		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		conn, ok := stats.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
				Clients:   make(map[uint32]bool),
			}
			stats.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
		if event.ClientID != nil {
			conn.Clients[*event.ClientID] = true
		}

		if event.ExchangeID != "" {
			ex, ok := stats.Exchanges[event.ExchangeID]
			if !ok {
				ex = &ExchangeStats{}
				stats.Exchanges[event.ExchangeID] = ex
			}
			if event.ClientID != nil {
				ex.ClientID = event.ClientID
			}
			if m := event.Message; m != nil {
				if m.Alert != nil {
					ex.Alert = m.Alert
				}
				if m.Duration != nil {
					ex.Duration = m.Duration
				}
			}
		}

		if event.Message != nil {
			stats.MessagesByType[event.Message.Type]++
		}
		if event.Error != nil {
			stats.Errors++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Entity Protocol Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerService, log.LayerHandshake} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.MessagesByType) > 0 {
		fmt.Fprintln(w, "Frames by Type:")
		for _, t := range messageTypes {
			if count := stats.MessagesByType[t]; count > 0 {
				fmt.Fprintf(w, "  %-24s %d\n", t.String()+":", count)
			}
		}
		fmt.Fprintln(w)
	}

	printConnections(w, stats.Connections)
	printExchanges(w, stats.Exchanges)

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}

func printConnections(w io.Writer, conns map[string]*ConnectionStats) {
	fmt.Fprintf(w, "Connections: %d\n", len(conns))
	if len(conns) == 0 {
		return
	}

	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return conns[ids[i]].FirstSeen.Before(conns[ids[j]].FirstSeen)
	})

	fmt.Fprintln(w)
	for _, id := range ids {
		cs := conns[id]
		duration := cs.LastSeen.Sub(cs.FirstSeen).Round(time.Millisecond)
		fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenID(id), cs.Events, duration)
		if len(cs.Clients) > 0 {
			clients := make([]uint32, 0, len(cs.Clients))
			for c := range cs.Clients {
				clients = append(clients, c)
			}
			sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
			fmt.Fprintf(w, "           Clients: %v\n", clients)
		}
	}
}

func printExchanges(w io.Writer, exchanges map[string]*ExchangeStats) {
	if len(exchanges) == 0 {
		return
	}

	var rejected int
	var total time.Duration
	var timed int
	for _, ex := range exchanges {
		if ex.Alert != nil {
			rejected++
		}
		if ex.Duration != nil {
			total += *ex.Duration
			timed++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Exchanges: %d (%d rejected)\n", len(exchanges), rejected)
	if timed > 0 {
		fmt.Fprintf(w, "  Mean duration: %s\n", formatDuration(total/time.Duration(timed)))
	}
}
