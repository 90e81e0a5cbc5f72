package discovery

import (
	"errors"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of entity servers.
	ServiceType = "_iotauth-entity._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default entity server port.
	DefaultPort = 21900
)

// TXT record keys.
const (
	TXTKeyName      = "name"  // Entity name
	TXTKeyAuth      = "auth"  // Auth address the entity uses (optional)
	TXTKeyNumberKey = "nk"    // Number of keys requested per session
	TXTKeyVersion   = "ver"   // Entity software version (optional)
	TXTKeyProtocol  = "proto" // Transport protocol, always TCP
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 5 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrTXTRecordTooLarge   = errors.New("TXT record too large")
	ErrNotFound            = errors.New("service not found")
)

// TXTRecordMap holds TXT record key/value pairs.
type TXTRecordMap map[string]string

// EntityInfo is what an entity server advertises.
type EntityInfo struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Name is the entity name used in session key requests.
	Name string

	// Port is the entity server port.
	Port uint16

	// AuthAddress is the Auth the entity talks to (optional).
	AuthAddress string

	// NumberKey is the number of keys requested per session.
	NumberKey uint32

	// Version is the software version (optional).
	Version string
}

// EntityService is an entity server found by browsing.
type EntityService struct {
	EntityInfo

	// Host is the advertised host name.
	Host string

	// Addresses are the resolved IP addresses.
	Addresses []string
}

// AdvertiserConfig configures advertisement.
type AdvertiserConfig struct {
	// Interface restricts advertisement to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL is the record TTL. Zero uses the library default.
	TTL time.Duration
}

// BrowserConfig configures browsing.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	Interface string

	// Timeout bounds FindAll (default: BrowseTimeout).
	Timeout time.Duration
}
