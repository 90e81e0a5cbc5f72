package commands

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JZwlth/iotauth/pkg/log"
)

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	var events []log.Event
	for {
		e, err := reader.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, e)
	}
}

func TestFilterByExchange(t *testing.T) {
	path := createTestLogFile(t, exchangeCapture())
	out := filepath.Join(t.TempDir(), "out.elog")

	n, err := RunFilter(path, out, Selection{ExchangeID: "01HZX3K7Q3V9M0PZ6Y5W2F4E8B"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	events := readAll(t, out)
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, "conn-aaaa-1111", e.ConnectionID)
	}
}

func TestFilterByTimeRange(t *testing.T) {
	path := createTestLogFile(t, exchangeCapture())
	out := filepath.Join(t.TempDir(), "out.elog")

	n, err := RunFilter(path, out, Selection{TimeStart: "2026-01-28T10:15:33Z"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "conn-bbbb-2222", readAll(t, out)[0].ConnectionID)
}

func TestFilterByLayerAndDirection(t *testing.T) {
	path := createTestLogFile(t, exchangeCapture())
	out := filepath.Join(t.TempDir(), "out.elog")

	n, err := RunFilter(path, out, Selection{Layer: "service", Direction: "out"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFilterPreservesEvent(t *testing.T) {
	events := exchangeCapture()
	path := createTestLogFile(t, events)
	out := filepath.Join(t.TempDir(), "out.elog")

	_, err := RunFilter(path, out, Selection{Type: "AUTH_ALERT"})
	require.NoError(t, err)

	got := readAll(t, out)
	require.Len(t, got, 1)
	assert.Equal(t, events[1].RemoteAddr, got[0].RemoteAddr)
	assert.Equal(t, *events[1].Message.Alert, *got[0].Message.Alert)
	assert.Equal(t, *events[1].Message.Duration, *got[0].Message.Duration)
}

func TestFilterInvalidSelection(t *testing.T) {
	path := createTestLogFile(t, exchangeCapture())
	_, err := RunFilter(path, filepath.Join(t.TempDir(), "out.elog"), Selection{Layer: "bogus"})
	assert.ErrorContains(t, err, "invalid layer")
}
