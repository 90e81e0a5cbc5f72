package log

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JZwlth/iotauth/pkg/wire"
)

func TestEnumNames(t *testing.T) {
	tests := []struct {
		v    fmt.Stringer
		want string
	}{
		{DirectionIn, "IN"},
		{DirectionOut, "OUT"},
		{Direction(9), "UNKNOWN"},
		{LayerTransport, "TRANSPORT"},
		{LayerWire, "WIRE"},
		{LayerService, "SERVICE"},
		{LayerHandshake, "HANDSHAKE"},
		{Layer(200), "UNKNOWN"},
		{CategoryMessage, "MESSAGE"},
		{Category(1), "UNKNOWN"},
		{CategoryState, "STATE"},
		{CategoryError, "ERROR"},
		{RoleEntityServer, "ENTITY_SERVER"},
		{RoleAuthClient, "AUTH_CLIENT"},
		{Role(5), "UNKNOWN"},
		{StateEntityConnection, "CONNECTION"},
		{StateEntityHandler, "HANDLER"},
		{StateEntityExchange, "EXCHANGE"},
		{StateEntity(3), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.String(), "%T(%v)", tt.v, tt.v)
	}
}

// Captures on disk depend on these numbers.
func TestEnumValuesStable(t *testing.T) {
	assert.Equal(t, []uint8{0, 1}, []uint8{uint8(DirectionIn), uint8(DirectionOut)})
	assert.Equal(t, []uint8{0, 1, 2, 3},
		[]uint8{uint8(LayerTransport), uint8(LayerWire), uint8(LayerService), uint8(LayerHandshake)})
	assert.Equal(t, []uint8{0, 2, 3}, []uint8{uint8(CategoryMessage), uint8(CategoryState), uint8(CategoryError)})
	assert.Equal(t, []uint8{0, 1, 2},
		[]uint8{uint8(StateEntityConnection), uint8(StateEntityHandler), uint8(StateEntityExchange)})
}

func TestParseNames(t *testing.T) {
	l, err := ParseLayer("Handshake")
	require.NoError(t, err)
	assert.Equal(t, LayerHandshake, l)

	d, err := ParseDirection("out")
	require.NoError(t, err)
	assert.Equal(t, DirectionOut, d)

	c, err := ParseCategory("STATE")
	require.NoError(t, err)
	assert.Equal(t, CategoryState, c)

	_, err = ParseLayer("physical")
	assert.EqualError(t, err, "invalid layer: physical (must be one of transport, wire, service, handshake)")

	// The retired category slot is not a valid name.
	_, err = ParseCategory("")
	assert.ErrorContains(t, err, "must be one of message, state, error")

	_, err = ParseDirection("sideways")
	assert.ErrorContains(t, err, "invalid direction")
}

func TestFrameData(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 10)

	got, cut := FrameData(data, 4)
	assert.Len(t, got, 4)
	assert.True(t, cut)

	got, cut = FrameData(data, 10)
	assert.Len(t, got, 10)
	assert.False(t, cut)
}

func TestLoggerFunc(t *testing.T) {
	var seen []wire.MessageType
	var l Logger = LoggerFunc(func(e Event) { seen = append(seen, e.Message.Type) })

	l.Log(Event{Message: &MessageEvent{Type: wire.MsgClientPing}})
	l.Log(Event{Message: &MessageEvent{Type: wire.MsgAuthHello}})
	assert.Equal(t, []wire.MessageType{wire.MsgClientPing, wire.MsgAuthHello}, seen)

	// The zero NoopLogger accepts anything.
	var noop NoopLogger
	noop.Log(Event{Error: &ErrorEventData{Message: "ignored"}})
}
