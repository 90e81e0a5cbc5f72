package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/JZwlth/iotauth/pkg/log"
	"github.com/JZwlth/iotauth/pkg/wire"
)

var t0 = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.elog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

// exchangeCapture is what the server records for one rejected session
// request from client 7 followed by a ping on a second connection.
func exchangeCapture() []log.Event {
	client := uint32(7)
	alert := wire.AlertInvalidSessionKeyReqTarget
	took := 12 * time.Millisecond
	return []log.Event{
		{
			Timestamp:    t0,
			ConnectionID: "conn-aaaa-1111",
			Direction:    log.DirectionIn,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			ClientID:     &client,
			ExchangeID:   "01HZX3K7Q3V9M0PZ6Y5W2F4E8B",
			Message:      &log.MessageEvent{Type: wire.MsgClientSessionRequest, PayloadSize: 3, Purpose: `{"keyId":7}`},
		},
		{
			Timestamp:    t0.Add(5 * time.Millisecond),
			ConnectionID: "conn-aaaa-1111",
			Direction:    log.DirectionIn,
			Layer:        log.LayerHandshake,
			Category:     log.CategoryMessage,
			LocalRole:    log.RoleAuthClient,
			RemoteAddr:   "127.0.0.1:21900",
			ExchangeID:   "01HZX3K7Q3V9M0PZ6Y5W2F4E8B",
			ClientID:     &client,
			Message:      &log.MessageEvent{Type: wire.MsgAuthAlert, PayloadSize: 1, Alert: &alert, Duration: &took},
		},
		{
			Timestamp:    t0.Add(6 * time.Millisecond),
			ConnectionID: "conn-aaaa-1111",
			Direction:    log.DirectionOut,
			Layer:        log.LayerService,
			Category:     log.CategoryError,
			ExchangeID:   "01HZX3K7Q3V9M0PZ6Y5W2F4E8B",
			Error:        &log.ErrorEventData{Layer: log.LayerHandshake, Message: "auth rejected", Context: "exchange"},
		},
		{
			Timestamp:    t0.Add(2 * time.Second),
			ConnectionID: "conn-bbbb-2222",
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			Frame:        &log.FrameEvent{Size: 1, Data: []byte{0x20}},
		},
		{
			Timestamp:    t0.Add(2*time.Second + time.Millisecond),
			ConnectionID: "conn-bbbb-2222",
			Direction:    log.DirectionOut,
			Layer:        log.LayerService,
			Category:     log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityHandler,
				OldState: "RESPOND_TO_CLIENT",
				NewState: "IDLE",
			},
		},
	}
}
