package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/JZwlth/iotauth/pkg/wire"
)

// Payload errors.
var (
	// ErrEncoding indicates a request that cannot be represented on the wire.
	ErrEncoding = errors.New("payload encoding error")
)

// NumberKeySize is the size of the number-of-keys field.
const NumberKeySize = 4

// Nonce is a single-use freshness value.
type Nonce [wire.NonceSize]byte

// NewNonce returns a fresh random nonce.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

// Payload is the decoded plaintext of a session key request.
type Payload struct {
	NonceEntity Nonce
	NonceAuth   Nonce
	NumberKey   uint32
	Name        string
	Purpose     string
}

// BuildPayload assembles the plaintext session key request for id.
// The purpose is taken from id as is, so callers derive it with
// Identity.ForClient first.
func BuildPayload(id Identity, nonceEntity, nonceAuth Nonce) ([]byte, error) {
	if len(id.Name) > wire.MaxVarintValue {
		return nil, fmt.Errorf("%w: name is %d bytes", ErrEncoding, len(id.Name))
	}
	if len(id.Purpose) > wire.MaxVarintValue {
		return nil, fmt.Errorf("%w: purpose is %d bytes", ErrEncoding, len(id.Purpose))
	}

	size := 2*wire.NonceSize + NumberKeySize + 2*wire.MaxVarintLen + len(id.Name) + len(id.Purpose)
	buf := make([]byte, 0, size)
	buf = append(buf, nonceEntity[:]...)
	buf = append(buf, nonceAuth[:]...)
	buf = binary.BigEndian.AppendUint32(buf, id.NumberKey)

	var err error
	if buf, err = appendString(buf, id.Name); err != nil {
		return nil, err
	}
	if buf, err = appendString(buf, id.Purpose); err != nil {
		return nil, err
	}
	return buf, nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	buf, err := wire.AppendVarint(buf, uint64(len(s)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return append(buf, s...), nil
}

// ParsePayload decodes a plaintext session key request.
func ParsePayload(data []byte) (*Payload, error) {
	const fixed = 2*wire.NonceSize + NumberKeySize
	if len(data) < fixed {
		return nil, fmt.Errorf("%w: payload has %d bytes, need at least %d", wire.ErrMalformedFrame, len(data), fixed)
	}

	p := &Payload{NumberKey: binary.BigEndian.Uint32(data[2*wire.NonceSize:fixed])}
	copy(p.NonceEntity[:], data[:wire.NonceSize])
	copy(p.NonceAuth[:], data[wire.NonceSize:2*wire.NonceSize])

	off := fixed
	name, n, err := readString(data, off)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	off += n

	purpose, n, err := readString(data, off)
	if err != nil {
		return nil, fmt.Errorf("purpose: %w", err)
	}
	off += n

	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", wire.ErrMalformedFrame, len(data)-off)
	}

	p.Name = name
	p.Purpose = purpose
	return p, nil
}

func readString(data []byte, off int) (string, int, error) {
	length, n, err := wire.DecodeVarint(data, off)
	if err != nil {
		return "", 0, err
	}
	start := off + n
	if uint64(len(data)-start) < length {
		return "", 0, fmt.Errorf("%w: string of %d bytes truncated", wire.ErrMalformedFrame, length)
	}
	end := start + int(length)
	return string(data[start:end]), end - off, nil
}
