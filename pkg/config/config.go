package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/JZwlth/iotauth/pkg/handshake"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// ENTITY_ENTITY_SERVER_PORT_NUMBER=21901.
const EnvPrefix = "ENTITY_"

// Configuration errors.
var (
	ErrParse         = errors.New("config parse error")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the entity server configuration. It is built once by Load and
// passed down; nothing reads it from globals.
type Config struct {
	EntityInfo EntityInfo `koanf:"entityInfo"`
	AuthInfo   AuthInfo   `koanf:"authInfo"`
	Auth       AuthConfig `koanf:"auth"`
	Entity     Entity     `koanf:"entity"`
	Network    Network    `koanf:"network"`
	Log        Log        `koanf:"log"`
	Metrics    Metrics    `koanf:"metrics"`
	Discovery  Discovery  `koanf:"discovery"`
}

// EntityInfo describes the entity to the Auth.
type EntityInfo struct {
	Name    string `koanf:"name"`
	Purpose string `koanf:"purpose"`

	// NumberKey is wider than the wire field so Verify can report
	// out-of-range values instead of wrapping them.
	NumberKey int64 `koanf:"number_key"`

	PrivKey KeyFile `koanf:"privkey"`

	// PubKey is optional; when set the private key is checked against it.
	PubKey KeyFile `koanf:"pubkey"`
}

// AuthInfo holds what the entity knows about the Auth.
type AuthInfo struct {
	PubKey KeyFile `koanf:"pubkey"`
}

// KeyFile points at a PEM file.
type KeyFile struct {
	Path string `koanf:"path"`
}

// IP is an "ip.address" setting.
type IP struct {
	Address string `koanf:"address"`
}

// Port is a "port.number" setting.
type Port struct {
	Number int `koanf:"number"`
}

// AuthConfig locates the Auth.
type AuthConfig struct {
	IP      IP            `koanf:"ip"`
	Port    Port          `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Entity groups the entity's own listeners.
type Entity struct {
	Server Server `koanf:"server"`
}

// Server configures the client-facing listener.
type Server struct {
	IP           IP            `koanf:"ip"`
	Port         Port          `koanf:"port"`
	MaxPending   int           `koanf:"max_pending"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	SessionRate  float64       `koanf:"session_rate"`
	SessionBurst int           `koanf:"session_burst"`
}

// Network selects the transport.
type Network struct {
	Protocol string `koanf:"protocol"`
}

// Log configures logging.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`

	// ProtocolFile is the CBOR protocol capture path. Empty disables it.
	ProtocolFile string `koanf:"protocol_file"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Address to serve /metrics on. Empty disables the endpoint.
	Address string `koanf:"address"`
}

// Discovery configures mDNS advertisement.
type Discovery struct {
	Enabled   bool   `koanf:"enabled"`
	Instance  string `koanf:"instance"`
	Interface string `koanf:"interface"`
}

// Defaults returns the default settings as flat dotted keys.
func Defaults() map[string]any {
	return map[string]any{
		"auth.timeout":                10 * time.Second,
		"entity.server.ip.address":    "0.0.0.0",
		"entity.server.port.number":   21900,
		"entity.server.max_pending":   16,
		"entity.server.write_timeout": 5 * time.Second,
		"entity.server.session_rate":  5.0,
		"network.protocol":            "TCP",
		"log.level":                   "info",
		"log.format":                  "text",
	}
}

// Default returns a Config holding only the defaults.
func Default() *Config {
	cfg, err := load(nil)
	if err != nil {
		// Defaults are static and always decode.
		panic(err)
	}
	return cfg
}

// Load reads defaults, then the file at path (if any), then ENTITY_*
// environment variables, and verifies the result.
func Load(path string) (*Config, error) {
	cfg, err := load(func(k *koanf.Koanf) error {
		if path == "" {
			return nil
		}
		if err := k.Load(file.Provider(path), ParserFor(path)); err != nil {
			return fmt.Errorf("load config file %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(fromFile func(*koanf.Koanf) error) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(maps.Unflatten(Defaults(), ".")), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if fromFile != nil {
		if err := fromFile(k); err != nil {
			return nil, err
		}
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey(k.Keys())), nil); err != nil {
			return nil, fmt.Errorf("load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return &cfg, nil
}

// envKey maps ENTITY_ENTITYINFO_NUMBER_KEY to entityInfo.number_key.
// Names that match no known key become lower-case dotted keys.
func envKey(known []string) func(string) string {
	lookup := make(map[string]string, len(known))
	for _, k := range known {
		lookup[envForm(k)] = k
	}
	for k := range Defaults() {
		lookup[envForm(k)] = k
	}
	for _, k := range Keys {
		lookup[envForm(k)] = k
	}

	return func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		s = strings.ReplaceAll(s, "_", ".")
		if k, ok := lookup[s]; ok {
			return k
		}
		return s
	}
}

func envForm(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", ".")
}

// Keys lists every recognized setting.
var Keys = []string{
	"entityInfo.name",
	"entityInfo.purpose",
	"entityInfo.number_key",
	"entityInfo.privkey.path",
	"entityInfo.pubkey.path",
	"authInfo.pubkey.path",
	"auth.ip.address",
	"auth.port.number",
	"auth.timeout",
	"entity.server.ip.address",
	"entity.server.port.number",
	"entity.server.max_pending",
	"entity.server.write_timeout",
	"entity.server.session_rate",
	"entity.server.session_burst",
	"network.protocol",
	"log.level",
	"log.format",
	"log.protocol_file",
	"metrics.address",
	"discovery.enabled",
	"discovery.instance",
	"discovery.interface",
}

// Verify checks the configuration and reports the first problem found.
func (c *Config) Verify() error {
	e := c.EntityInfo
	switch {
	case e.Name == "":
		return invalid("entityInfo.name is required")
	case !strings.Contains(e.Purpose, handshake.PurposePlaceholder):
		return invalid("entityInfo.purpose must contain %s", handshake.PurposePlaceholder)
	case e.NumberKey < 0 || e.NumberKey > math.MaxUint32:
		return invalid("entityInfo.number_key %d out of range", e.NumberKey)
	case e.PrivKey.Path == "":
		return invalid("entityInfo.privkey.path is required")
	case c.AuthInfo.PubKey.Path == "":
		return invalid("authInfo.pubkey.path is required")
	case c.Auth.IP.Address == "":
		return invalid("auth.ip.address is required")
	}

	if err := checkPort("auth.port.number", c.Auth.Port.Number, false); err != nil {
		return err
	}
	if err := checkPort("entity.server.port.number", c.Entity.Server.Port.Number, true); err != nil {
		return err
	}

	if !strings.EqualFold(c.Network.Protocol, "TCP") {
		return invalid("network.protocol %q is not supported", c.Network.Protocol)
	}
	if c.Auth.Timeout <= 0 {
		return invalid("auth.timeout must be positive")
	}

	s := c.Entity.Server
	if s.MaxPending < 0 || s.WriteTimeout < 0 || s.SessionRate < 0 || s.SessionBurst < 0 {
		return invalid("entity.server limits must not be negative")
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid("log.format %q must be json or text", c.Log.Format)
	}
	return nil
}

func checkPort(key string, port int, allowZero bool) error {
	if port < 0 || port > math.MaxUint16 || (port == 0 && !allowZero) {
		return invalid("%s %d out of range", key, port)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Identity returns the entity identity. The purpose stays a template.
func (c *Config) Identity() handshake.Identity {
	return handshake.Identity{
		Name:      c.EntityInfo.Name,
		Purpose:   c.EntityInfo.Purpose,
		NumberKey: uint32(c.EntityInfo.NumberKey),
	}
}

// AuthAddress returns the Auth's host:port.
func (c *Config) AuthAddress() string {
	return net.JoinHostPort(c.Auth.IP.Address, strconv.Itoa(c.Auth.Port.Number))
}

// ListenAddress returns the client-facing host:port.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Entity.Server.IP.Address, strconv.Itoa(c.Entity.Server.Port.Number))
}

// WriteFile saves c in the format chosen by the file extension. Every key
// in Keys that holds a value is written, so Load reads back the same Config.
func (c *Config) WriteFile(path string) error {
	k := koanf.New(".")
	flat := map[string]any{
		"entityInfo.name":             c.EntityInfo.Name,
		"entityInfo.purpose":          c.EntityInfo.Purpose,
		"entityInfo.number_key":       c.EntityInfo.NumberKey,
		"entityInfo.privkey.path":     c.EntityInfo.PrivKey.Path,
		"authInfo.pubkey.path":        c.AuthInfo.PubKey.Path,
		"auth.ip.address":             c.Auth.IP.Address,
		"auth.port.number":            c.Auth.Port.Number,
		"auth.timeout":                c.Auth.Timeout.String(),
		"entity.server.ip.address":    c.Entity.Server.IP.Address,
		"entity.server.port.number":   c.Entity.Server.Port.Number,
		"entity.server.max_pending":   c.Entity.Server.MaxPending,
		"entity.server.write_timeout": c.Entity.Server.WriteTimeout.String(),
		"entity.server.session_rate":  c.Entity.Server.SessionRate,
		"entity.server.session_burst": c.Entity.Server.SessionBurst,
		"network.protocol":            c.Network.Protocol,
		"log.level":                   c.Log.Level,
		"log.format":                  c.Log.Format,
		"discovery.enabled":           c.Discovery.Enabled,
	}
	// Unset optional paths stay out of the file.
	for key, v := range map[string]string{
		"entityInfo.pubkey.path": c.EntityInfo.PubKey.Path,
		"log.protocol_file":      c.Log.ProtocolFile,
		"metrics.address":        c.Metrics.Address,
		"discovery.instance":     c.Discovery.Instance,
		"discovery.interface":    c.Discovery.Interface,
	} {
		if v != "" {
			flat[key] = v
		}
	}
	if err := k.Load(mapProvider(maps.Unflatten(flat, ".")), nil); err != nil {
		return err
	}

	data, err := k.Marshal(ParserFor(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
