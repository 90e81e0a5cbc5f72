package wire

import "fmt"

// MessageType is the leading type byte of every frame on either channel.
type MessageType uint8

// Auth-facing message types.
const (
	// MsgAuthHello carries the Auth's freshness nonce. Sent by the Auth
	// immediately after accepting a connection.
	MsgAuthHello MessageType = 0

	// MsgSessionKeyReq is the session key request encrypted with the Auth's
	// public key and signed by the entity.
	MsgSessionKeyReq MessageType = 20

	// MsgAuthResponse signals that the Auth accepted the request.
	MsgAuthResponse MessageType = 21

	// MsgAuthAlert reports a rejected request. The payload is a single
	// alert code byte.
	MsgAuthAlert MessageType = 100
)

// Client-facing message types.
const (
	// MsgClientSessionRequest asks the entity to obtain a session key for
	// the client identified in the key id field.
	MsgClientSessionRequest MessageType = 30

	// MsgClientPing is answered with a fixed greeting.
	MsgClientPing MessageType = 32
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MsgAuthHello:
		return "AUTH_HELLO"
	case MsgSessionKeyReq:
		return "SESSION_KEY_REQ"
	case MsgAuthResponse:
		return "AUTH_RESPONSE"
	case MsgAuthAlert:
		return "AUTH_ALERT"
	case MsgClientSessionRequest:
		return "CLIENT_SESSION_REQUEST"
	case MsgClientPing:
		return "CLIENT_PING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// AlertCode is the reason carried by an AUTH_ALERT frame.
type AlertCode uint8

const (
	// AlertInvalidDistributionKey means the Auth holds no valid distribution key.
	AlertInvalidDistributionKey AlertCode = 0

	// AlertInvalidSessionKeyReqTarget means the requested purpose is unknown.
	AlertInvalidSessionKeyReqTarget AlertCode = 1

	// AlertUnknownInternalError is any other Auth-side failure.
	AlertUnknownInternalError AlertCode = 2
)

// String returns the alert code name.
func (c AlertCode) String() string {
	switch c {
	case AlertInvalidDistributionKey:
		return "INVALID_DISTRIBUTION_KEY"
	case AlertInvalidSessionKeyReqTarget:
		return "INVALID_SESSION_KEY_REQ_TARGET"
	case AlertUnknownInternalError:
		return "UNKNOWN_INTERNAL_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}
