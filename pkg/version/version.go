// Package version holds the protocol and build versions of the entity tools.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
)

// Current is the entity protocol version, announced in discovery records.
const Current = "1.0"

// Build is the software version, set at link time with
// -ldflags "-X github.com/JZwlth/iotauth/pkg/version.Build=v1.2.3".
var Build = "dev"

// ProtocolVersion is a "major.minor" protocol version. Peers interoperate
// when their majors agree.
type ProtocolVersion struct {
	Major, Minor uint16
}

// Parse reads a "major.minor" string.
func Parse(s string) (ProtocolVersion, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}
	var v ProtocolVersion
	for _, part := range []struct {
		text string
		dst  *uint16
	}{{major, &v.Major}, {minor, &v.Minor}} {
		n, err := strconv.ParseUint(part.text, 10, 16)
		if err != nil {
			return ProtocolVersion{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		*part.dst = uint16(n)
	}
	return v, nil
}

func (v ProtocolVersion) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}

// CompatibleWith reports whether a peer announcing s speaks a protocol
// compatible with Current. An empty or malformed version is not.
func CompatibleWith(s string) bool {
	peer, err := Parse(s)
	if err != nil {
		return false
	}
	current, _ := Parse(Current)
	return current.Major == peer.Major
}

// String describes the running binary for --version output.
func String(program string) string {
	build := Build
	if build == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			build = info.Main.Version
		}
	}
	return fmt.Sprintf("%s %s (protocol %s, %s)", program, build, Current, runtime.Version())
}
