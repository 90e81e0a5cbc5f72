package handshake

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JZwlth/iotauth/pkg/wire"
)

var (
	keysOnce sync.Once
	authKey  *rsa.PrivateKey
	entKey   *rsa.PrivateKey
	otherKey *rsa.PrivateKey
)

// testKeys generates the RSA keys shared by the tests in this package.
func testKeys(t *testing.T) (auth, entity, other *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		if authKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if entKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if otherKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return authKey, entKey, otherKey
}

func TestPurposeFor(t *testing.T) {
	id := Identity{Name: "ent1", Purpose: `{"group":"Servers","cid":"00000000"}`, NumberKey: 1}

	tests := []struct {
		clientID uint32
		want     string
	}{
		{0, `{"group":"Servers","cid":"0"}`},
		{7, `{"group":"Servers","cid":"7"}`},
		{wire.MaxClientID, `{"group":"Servers","cid":"16777215"}`},
	}
	for _, tt := range tests {
		if got := id.PurposeFor(tt.clientID); got != tt.want {
			t.Errorf("PurposeFor(%d) = %q, want %q", tt.clientID, got, tt.want)
		}
	}
}

func TestForClientLeavesIdentityUntouched(t *testing.T) {
	id := Identity{Name: "ent1", Purpose: "p-00000000", NumberKey: 7}

	derived := id.ForClient(42)
	if derived.Purpose != "p-42" {
		t.Errorf("derived purpose = %q", derived.Purpose)
	}
	if id.Purpose != "p-00000000" {
		t.Errorf("template was modified: %q", id.Purpose)
	}

	// A second derivation still sees the placeholder.
	if got := id.ForClient(9).Purpose; got != "p-9" {
		t.Errorf("second derivation = %q", got)
	}
}

func TestForClientConcurrent(t *testing.T) {
	id := Identity{Name: "ent1", Purpose: "p-00000000"}

	var wg sync.WaitGroup
	errs := make(chan string, 200)
	for i := uint32(1); i <= 200; i++ {
		wg.Add(1)
		go func(cid uint32) {
			defer wg.Done()
			got := id.ForClient(cid).Purpose
			want := "p-" + strconv.FormatUint(uint64(cid), 10)
			if got != want {
				errs <- got
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for got := range errs {
		t.Errorf("unexpected purpose %q", got)
	}
}

func TestBuildPayloadLayout(t *testing.T) {
	id := Identity{Name: "ent1", Purpose: "p-00000000", NumberKey: 7}.ForClient(7)
	nonceE := Nonce{0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8}
	nonceA := Nonce{1, 2, 3, 4, 5, 6, 7, 8}

	p, err := BuildPayload(id, nonceE, nonceA)
	require.NoError(t, err)

	wantLen := 8 + 8 + 4 + 1 + len(id.Name) + 1 + len(id.Purpose)
	require.Len(t, p, wantLen)

	assert.Equal(t, nonceE[:], p[0:8], "nonceEntity")
	assert.Equal(t, nonceA[:], p[8:16], "nonceAuth")
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(p[16:20]), "numberKey")
	assert.Equal(t, byte(len("ent1")), p[20], "name length")
	assert.Equal(t, "ent1", string(p[21:25]))
	assert.Equal(t, byte(len("p-7")), p[25], "purpose length")
	assert.Equal(t, "p-7", string(p[26:]))
}

func TestBuildPayloadLongPurpose(t *testing.T) {
	// 200 bytes needs a two-byte varint.
	id := Identity{Name: "n", Purpose: strings.Repeat("x", 200)}

	p, err := BuildPayload(id, Nonce{}, Nonce{})
	require.NoError(t, err)
	assert.Len(t, p, 8+8+4+1+1+2+200)

	parsed, err := ParsePayload(p)
	require.NoError(t, err)
	assert.Equal(t, id.Purpose, parsed.Purpose)
}

func TestParsePayloadRoundTrip(t *testing.T) {
	id := Identity{Name: "net1.client", Purpose: `{"group":"Servers"}`, NumberKey: 3}
	nonceE, err := NewNonce()
	require.NoError(t, err)
	nonceA, err := NewNonce()
	require.NoError(t, err)

	p, err := BuildPayload(id, nonceE, nonceA)
	require.NoError(t, err)

	got, err := ParsePayload(p)
	require.NoError(t, err)
	assert.Equal(t, &Payload{
		NonceEntity: nonceE,
		NonceAuth:   nonceA,
		NumberKey:   3,
		Name:        id.Name,
		Purpose:     id.Purpose,
	}, got)
}

func TestParsePayloadMalformed(t *testing.T) {
	valid, err := BuildPayload(Identity{Name: "ent1", Purpose: "p"}, Nonce{}, Nonce{})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", valid[:19]},
		{"missing name", valid[:20]},
		{"name truncated", valid[:23]},
		{"purpose missing", valid[:25]},
		{"trailing bytes", append(append([]byte{}, valid...), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(tt.data)
			if !errors.Is(err, wire.ErrMalformedFrame) {
				t.Errorf("expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestNewNonceUnique(t *testing.T) {
	seen := make(map[Nonce]bool)
	for i := 0; i < 1000; i++ {
		n, err := NewNonce()
		if err != nil {
			t.Fatalf("NewNonce failed: %v", err)
		}
		if seen[n] {
			t.Fatalf("nonce %x repeated", n)
		}
		seen[n] = true
	}
}

func TestEncryptAndSign(t *testing.T) {
	auth, entity, _ := testKeys(t)
	key, err := NewEntityKey(entity, nil)
	require.NoError(t, err)

	payload, err := BuildPayload(Identity{Name: "ent1", Purpose: "p-7", NumberKey: 7}, Nonce{1}, Nonce{2})
	require.NoError(t, err)

	req, err := EncryptAndSign(payload, &auth.PublicKey, key)
	require.NoError(t, err)
	assert.Len(t, req.Ciphertext, auth.Size())
	assert.Len(t, req.Signature, key.SignatureSize())

	// The Auth side splits, verifies and decrypts.
	split, err := SplitSignedRequest(req.Bytes(), entity.Size())
	require.NoError(t, err)
	require.NoError(t, VerifyRequest(split, &entity.PublicKey))

	plain, err := DecryptRequest(split, auth)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, plain))
}

func TestEncryptAndSignKeyMismatch(t *testing.T) {
	auth, entity, other := testKeys(t)

	// Public key on record does not pair with the signing key.
	key, err := NewEntityKey(entity, &other.PublicKey)
	require.NoError(t, err)

	req, err := EncryptAndSign([]byte("payload"), &auth.PublicKey, key)
	if !errors.Is(err, ErrKeyIntegrity) {
		t.Fatalf("expected ErrKeyIntegrity, got %v", err)
	}
	if req != nil {
		t.Error("expected no request on integrity failure")
	}
}

func TestEncryptAndSignPayloadTooLarge(t *testing.T) {
	auth, entity, _ := testKeys(t)
	key, err := NewEntityKey(entity, nil)
	require.NoError(t, err)

	_, err = EncryptAndSign(make([]byte, auth.Size()), &auth.PublicKey, key)
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestEncryptAndSignMissingKeys(t *testing.T) {
	auth, entity, _ := testKeys(t)
	key, err := NewEntityKey(entity, nil)
	require.NoError(t, err)

	_, err = EncryptAndSign([]byte("x"), nil, key)
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = EncryptAndSign([]byte("x"), &auth.PublicKey, nil)
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = NewEntityKey(nil, nil)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestSplitSignedRequestShort(t *testing.T) {
	_, err := SplitSignedRequest(make([]byte, 256), 256)
	assert.ErrorIs(t, err, ErrEncoding)
}
