package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing constants.
const (
	// MaxVarintLen is the longest varint accepted on the Auth channel.
	MaxVarintLen = 4

	// MaxVarintValue is the largest value that fits in MaxVarintLen bytes.
	MaxVarintValue = 1<<(7*MaxVarintLen) - 1

	// ClientHeaderSize is the fixed client-facing header size.
	ClientHeaderSize = 10

	// KeyIDSize is the size of the key id field in a client frame.
	KeyIDSize = 8

	// MaxClientID is the largest client id the 3-byte field can carry.
	MaxClientID = 1<<24 - 1

	// NonceSize is the size of both the entity and the Auth nonce.
	NonceSize = 8

	// AuthIDSize is the size of the Auth id that precedes the nonce in AUTH_HELLO.
	AuthIDSize = 4

	// AuthHelloNonceOffset is where the Auth nonce starts inside a complete
	// AUTH_HELLO frame whose length fits in one varint byte.
	AuthHelloNonceOffset = 1 + 1 + AuthIDSize
)

// Codec errors.
var (
	// ErrMalformedFrame indicates bytes that cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrValueOutOfRange indicates a value that does not fit its field.
	ErrValueOutOfRange = errors.New("value out of range")
)

// EncodeVarint encodes n as a base-128 varint, low-order group first.
// Values above MaxVarintValue are rejected rather than truncated.
func EncodeVarint(n uint64) ([]byte, error) {
	return AppendVarint(nil, n)
}

// AppendVarint appends the varint encoding of n to dst.
func AppendVarint(dst []byte, n uint64) ([]byte, error) {
	if n > MaxVarintValue {
		return dst, fmt.Errorf("%w: varint %d > %d", ErrValueOutOfRange, n, MaxVarintValue)
	}
	return binary.AppendUvarint(dst, n), nil
}

// DecodeVarint decodes a varint starting at offset.
// It returns the value and the number of bytes consumed.
func DecodeVarint(data []byte, offset int) (uint64, int, error) {
	if offset < 0 || offset > len(data) {
		return 0, 0, fmt.Errorf("%w: varint offset %d outside %d bytes", ErrMalformedFrame, offset, len(data))
	}

	var value uint64
	for i := 0; i < MaxVarintLen; i++ {
		if offset+i >= len(data) {
			return 0, 0, fmt.Errorf("%w: varint truncated", ErrMalformedFrame)
		}
		b := data[offset+i]
		value |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: varint longer than %d bytes", ErrMalformedFrame, MaxVarintLen)
}

// EncodeFixedWidth encodes n big-endian into exactly width bytes.
// Values that do not fit are rejected.
func EncodeFixedWidth(n uint64, width int) ([]byte, error) {
	if width < 1 || width > 8 {
		return nil, fmt.Errorf("%w: width %d", ErrValueOutOfRange, width)
	}
	if width < 8 && n >= 1<<(8*uint(width)) {
		return nil, fmt.Errorf("%w: %d does not fit in %d bytes", ErrValueOutOfRange, n, width)
	}

	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(n)
		n >>= 8
	}
	return buf, nil
}

// ClientFrame is a decoded client-facing frame.
type ClientFrame struct {
	Type     MessageType
	Reserved byte
	KeyID    [KeyIDSize]byte

	// Payload is everything after the header (the client's ciphertext).
	Payload []byte
}

// ClientID returns the 24-bit client id carried in the low bytes of KeyID.
func (f *ClientFrame) ClientID() uint32 {
	return uint32(f.KeyID[5])<<16 | uint32(f.KeyID[6])<<8 | uint32(f.KeyID[7])
}

// ParseClientFrame decodes a client-facing frame.
// The returned payload aliases data.
func ParseClientFrame(data []byte) (*ClientFrame, error) {
	if len(data) < ClientHeaderSize {
		return nil, fmt.Errorf("%w: client frame has %d bytes, need %d", ErrMalformedFrame, len(data), ClientHeaderSize)
	}

	f := &ClientFrame{
		Type:     MessageType(data[0]),
		Reserved: data[1],
		Payload:  data[ClientHeaderSize:],
	}
	copy(f.KeyID[:], data[2:ClientHeaderSize])
	return f, nil
}

// EncodeClientFrame encodes a client-facing frame.
func EncodeClientFrame(f *ClientFrame) []byte {
	buf := make([]byte, ClientHeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	buf[1] = f.Reserved
	copy(buf[2:ClientHeaderSize], f.KeyID[:])
	copy(buf[ClientHeaderSize:], f.Payload)
	return buf
}

// KeyIDForClient builds a key id whose low three bytes carry clientID.
func KeyIDForClient(clientID uint32) ([KeyIDSize]byte, error) {
	var keyID [KeyIDSize]byte
	b, err := EncodeFixedWidth(uint64(clientID), 3)
	if err != nil {
		return keyID, err
	}
	copy(keyID[KeyIDSize-3:], b)
	return keyID, nil
}

// AuthFrame is a decoded Auth-facing frame.
type AuthFrame struct {
	Type    MessageType
	Payload []byte
}

// ParseAuthFrame decodes one Auth-facing frame from the front of data.
// It returns the frame and the number of bytes it occupied.
func ParseAuthFrame(data []byte) (*AuthFrame, int, error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("%w: auth frame has %d bytes", ErrMalformedFrame, len(data))
	}

	length, n, err := DecodeVarint(data, 1)
	if err != nil {
		return nil, 0, err
	}

	start := 1 + n
	if uint64(len(data)-start) < length {
		return nil, 0, fmt.Errorf("%w: auth frame declares %d payload bytes, have %d", ErrMalformedFrame, length, len(data)-start)
	}

	end := start + int(length)
	return &AuthFrame{
		Type:    MessageType(data[0]),
		Payload: data[start:end],
	}, end, nil
}

// EncodeAuthFrame encodes an Auth-facing frame.
func EncodeAuthFrame(msgType MessageType, payload []byte) ([]byte, error) {
	buf := make([]byte, 1, 1+MaxVarintLen+len(payload))
	buf[0] = byte(msgType)

	buf, err := AppendVarint(buf, uint64(len(payload)))
	if err != nil {
		return nil, err
	}
	return append(buf, payload...), nil
}

// AuthHello is the decoded payload of an AUTH_HELLO frame.
type AuthHello struct {
	AuthID uint32
	Nonce  [NonceSize]byte
}

// DecodeAuthHello decodes an AUTH_HELLO payload.
func DecodeAuthHello(payload []byte) (*AuthHello, error) {
	if len(payload) < AuthIDSize+NonceSize {
		return nil, fmt.Errorf("%w: AUTH_HELLO payload has %d bytes, need %d", ErrMalformedFrame, len(payload), AuthIDSize+NonceSize)
	}

	h := &AuthHello{AuthID: binary.BigEndian.Uint32(payload[:AuthIDSize])}
	copy(h.Nonce[:], payload[AuthIDSize:AuthIDSize+NonceSize])
	return h, nil
}

// EncodeAuthHello encodes an AUTH_HELLO payload.
func EncodeAuthHello(h *AuthHello) []byte {
	buf := make([]byte, AuthIDSize+NonceSize)
	binary.BigEndian.PutUint32(buf, h.AuthID)
	copy(buf[AuthIDSize:], h.Nonce[:])
	return buf
}

// DecodeAuthAlert returns the alert code from an AUTH_ALERT payload.
func DecodeAuthAlert(payload []byte) (AlertCode, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: empty AUTH_ALERT payload", ErrMalformedFrame)
	}
	return AlertCode(payload[0]), nil
}
