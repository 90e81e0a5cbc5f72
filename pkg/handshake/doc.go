// Package handshake builds the session key request the entity sends to the
// Authentication Service.
//
// The plaintext request is laid out as
//
//	nonceEntity(8) | nonceAuth(8) | numberKey(4, BE) |
//	varint(len name) | name | varint(len purpose) | purpose
//
// and is RSA-PKCS#1 v1.5 encrypted under the Auth's public key. The entity
// then signs the ciphertext with RSA-PKCS#1 v1.5 over SHA-256 and checks its
// own signature before the request leaves the process.
package handshake
