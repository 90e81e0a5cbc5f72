package handshake

import (
	"strconv"
	"strings"
)

// PurposePlaceholder is replaced with the decimal client id in a purpose template.
const PurposePlaceholder = "00000000"

// Identity describes the entity to the Authentication Service.
// It is created once at startup and never modified.
type Identity struct {
	// Name is the entity name registered with the Auth.
	Name string

	// Purpose is the purpose string. For an identity loaded from configuration
	// it is a template that contains PurposePlaceholder.
	Purpose string

	// NumberKey is the number of session keys requested.
	NumberKey uint32
}

// PurposeFor returns the purpose template with the placeholder replaced by
// clientID.
func (id Identity) PurposeFor(clientID uint32) string {
	return strings.ReplaceAll(id.Purpose, PurposePlaceholder, strconv.FormatUint(uint64(clientID), 10))
}

// ForClient returns a copy of id whose purpose is derived for clientID.
// The receiver is left untouched, so one Identity can serve any number of
// concurrent requests.
func (id Identity) ForClient(clientID uint32) Identity {
	id.Purpose = id.PurposeFor(clientID)
	return id
}
