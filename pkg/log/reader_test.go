package log

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JZwlth/iotauth/pkg/wire"
)

func writeCapture(t *testing.T, events ...Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.elog")
	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		fl.Log(e)
	}
	require.NoError(t, fl.Close())
	return path
}

func ptr[T any](v T) *T { return &v }

func connIDs(events []Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ConnectionID
	}
	return ids
}

// sampleCapture is one connection's worth of traffic plus a ping on a
// second connection.
func sampleCapture(base time.Time) []Event {
	seven := uint32(7)
	return []Event{
		{Timestamp: base, ConnectionID: "a1", Direction: DirectionIn, Layer: LayerTransport},
		{Timestamp: base.Add(time.Second), ConnectionID: "a2", Direction: DirectionIn, Layer: LayerWire,
			ClientID: &seven, Message: &MessageEvent{Type: wire.MsgClientSessionRequest}},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "a3", Direction: DirectionOut, Layer: LayerHandshake,
			ExchangeID: "ex-1", ClientID: &seven, Message: &MessageEvent{Type: wire.MsgSessionKeyReq}},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "a4", Direction: DirectionIn, Layer: LayerHandshake,
			ExchangeID: "ex-1", ClientID: &seven, Message: &MessageEvent{Type: wire.MsgAuthResponse}},
		{Timestamp: base.Add(4 * time.Second), ConnectionID: "b1", Direction: DirectionIn, Layer: LayerWire,
			Message: &MessageEvent{Type: wire.MsgClientPing}},
		{Timestamp: base.Add(5 * time.Second), ConnectionID: "b2", Layer: LayerService, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityConnection, NewState: "closed"}},
	}
}

func TestReadAllFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := writeCapture(t, sampleCapture(base)...)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"everything", Filter{}, []string{"a1", "a2", "a3", "a4", "b1", "b2"}},
		{"connection", Filter{ConnectionID: "b1"}, []string{"b1"}},
		{"layer", Filter{Layer: ptr(LayerHandshake)}, []string{"a3", "a4"}},
		{"direction", Filter{Direction: ptr(DirectionOut)}, []string{"a3"}},
		{"category", Filter{Category: ptr(CategoryState)}, []string{"b2"}},
		{"exchange", Filter{ExchangeID: "ex-1"}, []string{"a3", "a4"}},
		{"client", Filter{ClientID: ptr(uint32(7))}, []string{"a2", "a3", "a4"}},
		{"other client", Filter{ClientID: ptr(uint32(8))}, []string{}},
		{"type", Filter{MessageType: ptr(wire.MsgClientPing)}, []string{"b1"}},
		{"window", Filter{TimeStart: ptr(base.Add(time.Second)), TimeEnd: ptr(base.Add(3 * time.Second))}, []string{"a2", "a3"}},
		{"combined", Filter{Layer: ptr(LayerHandshake), Direction: ptr(DirectionIn), ClientID: ptr(uint32(7))}, []string{"a4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadAll(path, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, connIDs(got))
		})
	}
}

func TestReaderNext(t *testing.T) {
	path := writeCapture(t, sampleCapture(time.Now())[:2]...)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a1", e.ConnectionID)

	e, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a2", e.ConnectionID)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderEmptyCapture(t *testing.T) {
	events, err := ReadAll(writeCapture(t), Filter{})
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = ReadAll(filepath.Join(t.TempDir(), "absent.elog"), Filter{})
	assert.Error(t, err)
}

func TestReaderAllStopsEarly(t *testing.T) {
	path := writeCapture(t, sampleCapture(time.Now())...)
	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	var n int
	for _, err := range r.All() {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	// The reader resumes where the loop left off.
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a3", e.ConnectionID)
}

func TestStreamReaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, e := range sampleCapture(time.Now())[:2] {
		require.NoError(t, enc.Encode(e))
	}
	cut := buf.Bytes()[:buf.Len()-3]

	r := NewStreamReader(bytes.NewReader(cut), Filter{})
	var (
		got  []Event
		last error
	)
	for e, err := range r.All() {
		if err != nil {
			last = err
			continue
		}
		got = append(got, e)
	}
	assert.Len(t, got, 1)
	assert.Error(t, last)
	assert.NotErrorIs(t, last, io.EOF)
	assert.NoError(t, r.Close())
}

func TestZeroFilterMatchesAnything(t *testing.T) {
	var f Filter
	assert.True(t, f.Matches(Event{}))

	f.MessageType = ptr(wire.MsgAuthAlert)
	assert.False(t, f.Matches(Event{}), "type filter needs a message")
}
