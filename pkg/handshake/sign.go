package handshake

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Signing errors.
var (
	// ErrKeyIntegrity indicates the entity's signature did not verify against
	// its own public key. A request in this state is never sent.
	ErrKeyIntegrity = errors.New("key integrity check failed")

	// ErrNoKey indicates a missing key.
	ErrNoKey = errors.New("key is required")
)

// EntityKey is the entity's RSA key pair.
type EntityKey struct {
	Private *rsa.PrivateKey

	// Public is the key the Auth has on record for this entity. It usually
	// equals Private.Public() but may be loaded independently.
	Public *rsa.PublicKey
}

// NewEntityKey pairs priv with pub. A nil pub is derived from priv.
func NewEntityKey(priv *rsa.PrivateKey, pub *rsa.PublicKey) (*EntityKey, error) {
	if priv == nil {
		return nil, ErrNoKey
	}
	if pub == nil {
		pub = &priv.PublicKey
	}
	return &EntityKey{Private: priv, Public: pub}, nil
}

// SignatureSize returns the size of signatures made with this key.
func (k *EntityKey) SignatureSize() int {
	return k.Private.Size()
}

// SignedRequest is an encrypted session key request and the entity's
// signature over the ciphertext.
type SignedRequest struct {
	Ciphertext []byte
	Signature  []byte
}

// Bytes returns ciphertext followed by signature.
func (r *SignedRequest) Bytes() []byte {
	buf := make([]byte, 0, len(r.Ciphertext)+len(r.Signature))
	buf = append(buf, r.Ciphertext...)
	return append(buf, r.Signature...)
}

// SplitSignedRequest splits data whose last sigSize bytes are the signature.
func SplitSignedRequest(data []byte, sigSize int) (*SignedRequest, error) {
	if sigSize <= 0 || len(data) <= sigSize {
		return nil, fmt.Errorf("%w: %d bytes cannot hold a %d byte signature", ErrEncoding, len(data), sigSize)
	}
	cut := len(data) - sigSize
	return &SignedRequest{Ciphertext: data[:cut], Signature: data[cut:]}, nil
}

// EncryptAndSign encrypts payload for the Auth and signs the ciphertext.
// The signature is verified against key.Public before returning; a mismatch
// yields ErrKeyIntegrity and no request.
func EncryptAndSign(payload []byte, authKey *rsa.PublicKey, key *EntityKey) (*SignedRequest, error) {
	if authKey == nil || key == nil || key.Private == nil || key.Public == nil {
		return nil, ErrNoKey
	}

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, authKey, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypt: %w", ErrEncoding, err)
	}

	digest := sha256.Sum256(ciphertext)
	signature, err := rsa.SignPKCS1v15(rand.Reader, key.Private, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	req := &SignedRequest{Ciphertext: ciphertext, Signature: signature}
	if err := VerifyRequest(req, key.Public); err != nil {
		return nil, err
	}
	return req, nil
}

// VerifyRequest checks req's signature against pub.
func VerifyRequest(req *SignedRequest, pub *rsa.PublicKey) error {
	digest := sha256.Sum256(req.Ciphertext)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], req.Signature); err != nil {
		return fmt.Errorf("%w: %w", ErrKeyIntegrity, err)
	}
	return nil
}

// DecryptRequest recovers the plaintext payload of req with the Auth's
// private key.
func DecryptRequest(req *SignedRequest, authKey *rsa.PrivateKey) ([]byte, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, authKey, req.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}
