package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnections(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsActive))
}

func TestFramesAndExchanges(t *testing.T) {
	m := New()

	m.FrameReceived("CLIENT_PING")
	m.FrameReceived("CLIENT_PING")
	m.FrameDropped(DropBusy)

	m.ExchangeStarted()
	m.ExchangeStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.exchangesInFlight))

	m.ExchangeFinished(OutcomeSucceeded, 20*time.Millisecond)
	m.ExchangeFinished(OutcomeRejected, 30*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesTotal.WithLabelValues("CLIENT_PING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues(DropBusy)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exchangesTotal.WithLabelValues(OutcomeSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exchangesTotal.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.exchangesInFlight))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.FrameReceived("x")
		m.FrameDropped("x")
		m.ExchangeStarted()
		m.ExchangeFinished(OutcomeFailed, time.Second)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ConnectionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), "entity_connections_total 1"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
