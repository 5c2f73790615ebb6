package discovery

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of management servers.
	ServiceType = "_m2m._udp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default management server port.
	DefaultPort = 5683

	// DiscoverURI is the server URI that requests discovery.
	DiscoverURI = "mdns"
)

// TXT record keys.
const (
	TXTKeyScheme    = "tr" // Transport scheme: udp, tcp, tls, coap, coaps
	TXTKeyBootstrap = "bs" // "1" for a bootstrap server
	TXTKeyVersion   = "pv" // Protocol version (optional)
)

const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrUnsupportedScheme   = errors.New("unsupported transport scheme")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrBrowseTimeout       = errors.New("browse timeout")
)

var schemes = map[string]bool{
	"udp":   true,
	"tcp":   true,
	"tls":   true,
	"coap":  true,
	"coaps": true,
}

// ServerInfo is what a management server advertises.
type ServerInfo struct {
	InstanceName string
	Port         uint16
	Scheme       string
	Bootstrap    bool
	Version      string
}

// ServerService is a discovered management server.
type ServerService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	Scheme       string
	Bootstrap    bool
	Version      string
}

// URI returns the server URI to register with. IPv4 addresses are
// preferred; without any address the host name is used.
func (s *ServerService) URI() string {
	host := strings.TrimSuffix(s.Host, ".")
	for _, addr := range s.Addresses {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			host = addr
			break
		}
		if host == "" {
			host = addr
		}
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return s.Scheme + "://" + net.JoinHostPort(host, strconv.Itoa(int(port)))
}
