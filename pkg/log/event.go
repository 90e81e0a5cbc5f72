package log

import (
	"fmt"
	"strings"
	"time"

	"github.com/JZwlth/iotauth/pkg/wire"
)

// Event is one capture record. Exactly one of Frame, Message, StateChange
// or Error is set. Keys are small integers so a capture of a busy entity
// stays compact on disk.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`
	LocalRole    Role      `cbor:"6,keyasint,omitempty"`
	RemoteAddr   string    `cbor:"7,keyasint,omitempty"`

	// ExchangeID is the ULID of the Auth exchange the event belongs to.
	ExchangeID string `cbor:"8,keyasint,omitempty"`

	// ClientID is the 24-bit id carried by a session request.
	ClientID *uint32 `cbor:"9,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction is IN for bytes received and OUT for bytes sent.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Layer is the part of the entity that recorded the event.
type Layer uint8

const (
	LayerTransport Layer = iota
	LayerWire
	LayerService
	LayerHandshake
)

// Category groups events by payload.
type Category uint8

// Value 1 is retired and never written.
const (
	CategoryMessage Category = 0
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// Role tells the entity's two faces apart.
type Role uint8

const (
	RoleEntityServer Role = iota
	RoleAuthClient
)

// StateEntity is the thing whose state changed.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	StateEntityHandler
	StateEntityExchange
)

var (
	directionNames   = []string{DirectionIn: "IN", DirectionOut: "OUT"}
	layerNames       = []string{LayerTransport: "TRANSPORT", LayerWire: "WIRE", LayerService: "SERVICE", LayerHandshake: "HANDSHAKE"}
	categoryNames    = []string{CategoryMessage: "MESSAGE", CategoryState: "STATE", CategoryError: "ERROR"}
	roleNames        = []string{RoleEntityServer: "ENTITY_SERVER", RoleAuthClient: "AUTH_CLIENT"}
	stateEntityNames = []string{StateEntityConnection: "CONNECTION", StateEntityHandler: "HANDLER", StateEntityExchange: "EXCHANGE"}
)

func (d Direction) String() string   { return nameOf(directionNames, d) }
func (l Layer) String() string       { return nameOf(layerNames, l) }
func (c Category) String() string    { return nameOf(categoryNames, c) }
func (r Role) String() string        { return nameOf(roleNames, r) }
func (s StateEntity) String() string { return nameOf(stateEntityNames, s) }

func nameOf[T ~uint8](names []string, v T) string {
	if int(v) < len(names) && names[v] != "" {
		return names[v]
	}
	return "UNKNOWN"
}

// ParseDirection accepts "in" or "out" in any case.
func ParseDirection(s string) (Direction, error) {
	return parseName[Direction]("direction", directionNames, s)
}

// ParseLayer accepts a layer name such as "wire" in any case.
func ParseLayer(s string) (Layer, error) {
	return parseName[Layer]("layer", layerNames, s)
}

// ParseCategory accepts "message", "state" or "error" in any case.
func ParseCategory(s string) (Category, error) {
	return parseName[Category]("category", categoryNames, s)
}

func parseName[T ~uint8](kind string, names []string, s string) (T, error) {
	var valid []string
	for i, n := range names {
		if n == "" {
			continue
		}
		if strings.EqualFold(n, s) {
			return T(i), nil
		}
		valid = append(valid, strings.ToLower(n))
	}
	return 0, fmt.Errorf("invalid %s: %s (must be one of %s)", kind, s, strings.Join(valid, ", "))
}

// FrameEvent is a raw frame as seen by the transport.
type FrameEvent struct {
	// Size counts the whole frame including its length prefix.
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MessageEvent is a decoded frame header plus what the entity derived
// from it.
type MessageEvent struct {
	Type        wire.MessageType `cbor:"1,keyasint"`
	PayloadSize int              `cbor:"2,keyasint"`
	Purpose     string           `cbor:"3,keyasint,omitempty"`
	Alert       *wire.AlertCode  `cbor:"4,keyasint,omitempty"`

	// Duration is set on the event that completes an exchange.
	Duration *time.Duration `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent records a lifecycle transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData records a failure. Context names the operation that was
// running when it happened.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Code    *int   `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}

// FrameData returns data cut to at most max bytes and whether anything was
// dropped.
func FrameData(data []byte, max int) ([]byte, bool) {
	if len(data) <= max {
		return data, false
	}
	return data[:max], true
}
