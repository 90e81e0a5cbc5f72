// Package wire implements the two binary framings spoken by the entity.
//
// All functions in this package are pure: they never touch the network.
//
// # Client-facing frames
//
// Clients talk to the entity with a fixed 10-byte header followed by an
// opaque payload:
//
//	┌──────────┬──────────┬──────────────────────┬─────────────┐
//	│ type (1) │ rsvd (1) │ key id (8)           │ payload ... │
//	└──────────┴──────────┴──────────────────────┴─────────────┘
//
// The low-order three bytes of the key id carry the 24-bit client id.
//
// # Auth-facing frames
//
// The Authentication Service channel uses a type byte, a base-128 varint
// length (at most 4 bytes, least-significant group first) and the payload:
//
//	┌──────────┬──────────────────┬─────────────────┐
//	│ type (1) │ varint len (1-4) │ payload (len)   │
//	└──────────┴──────────────────┴─────────────────┘
//
// Integers in fixed-width fields are big-endian.
package wire
