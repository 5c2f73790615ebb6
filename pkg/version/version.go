// Package version holds the protocol version and the ALPN identifiers
// derived from it.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Current is the protocol version spoken by this module.
	Current = "1.0"
	// CurrentMajor is the major component of Current.
	CurrentMajor uint16 = 1

	alpnPrefix = "m2m/"
)

// ErrInvalid is returned for malformed version strings.
var ErrInvalid = errors.New("invalid protocol version")

// ProtocolVersion is a "major.minor" protocol version. Peers with the same
// major version interoperate.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses "major.minor".
func Parse(s string) (ProtocolVersion, error) {
	majorStr, minorStr, ok := strings.Cut(s, ".")
	if !ok {
		return ProtocolVersion{}, fmt.Errorf("%w: %q: expected major.minor", ErrInvalid, s)
	}
	major, err := component(majorStr)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("%w: %q: major: %v", ErrInvalid, s, err)
	}
	minor, err := component(minorStr)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("%w: %q: minor: %v", ErrInvalid, s, err)
	}
	return ProtocolVersion{Major: major, Minor: minor}, nil
}

func component(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err
}

func (v ProtocolVersion) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}

// Compatible reports whether v and other share a major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Supported reports whether a peer advertising version s can talk to this
// module. A peer that advertises nothing is assumed current.
func Supported(s string) bool {
	if s == "" {
		return true
	}
	v, err := Parse(s)
	return err == nil && v.Major == CurrentMajor
}

// ALPNProtocol returns "m2m/<major>".
func ALPNProtocol(major uint16) string {
	return alpnPrefix + strconv.Itoa(int(major))
}

// MajorFromALPN is the inverse of ALPNProtocol.
func MajorFromALPN(alpn string) (uint16, error) {
	suffix, ok := strings.CutPrefix(alpn, alpnPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: ALPN %q", ErrInvalid, alpn)
	}
	major, err := component(suffix)
	if err != nil {
		return 0, fmt.Errorf("%w: ALPN %q: %v", ErrInvalid, alpn, err)
	}
	return major, nil
}

// SupportedALPNProtocols lists the ALPN identifiers a server offers,
// newest first.
func SupportedALPNProtocols() []string {
	return []string{ALPNProtocol(CurrentMajor)}
}
